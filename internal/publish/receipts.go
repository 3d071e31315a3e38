package publish

import (
	"encoding/json"
	"fmt"
	"strings"
)

// uploadReceipts records what a publish attempt has already pushed to
// external services. Persisted on the item after every step so a retry
// resumes where the last attempt stopped instead of re-uploading, which
// the index would reject and the forge would duplicate.
type uploadReceipts struct {
	// Index maps distribution filenames to their upload outcome,
	// "uploaded" or "exists".
	Index map[string]string `json:"index,omitempty"`
	// Release identifies the forge release created for this item.
	Release *releaseReceipt `json:"release,omitempty"`
	// Assets lists asset filenames already attached to the release.
	Assets []string `json:"assets,omitempty"`
}

type releaseReceipt struct {
	ID        int64  `json:"id"`
	TagName   string `json:"tag_name"`
	UploadURL string `json:"upload_url,omitempty"`
	HTMLURL   string `json:"html_url,omitempty"`
}

func decodeReceipts(encoded string) (*uploadReceipts, error) {
	receipts := &uploadReceipts{}
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return receipts, nil
	}
	if err := json.Unmarshal([]byte(encoded), receipts); err != nil {
		return nil, fmt.Errorf("decode upload receipts: %w", err)
	}
	return receipts, nil
}

func (r *uploadReceipts) encode() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode upload receipts: %w", err)
	}
	return string(data), nil
}

// encodePretty renders the receipts for the evidence bundle. Encoding a
// receipts value cannot fail, so the error path collapses to empty.
func (r *uploadReceipts) encodePretty() []byte {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil
	}
	return data
}

func (r *uploadReceipts) Uploaded(name string) bool {
	_, ok := r.Index[name]
	return ok
}

func (r *uploadReceipts) RecordUpload(name, outcome string) {
	if r.Index == nil {
		r.Index = make(map[string]string)
	}
	r.Index[name] = outcome
}

func (r *uploadReceipts) AssetAttached(name string) bool {
	for _, attached := range r.Assets {
		if attached == name {
			return true
		}
	}
	return false
}

func (r *uploadReceipts) RecordAsset(name string) {
	if r.AssetAttached(name) {
		return
	}
	r.Assets = append(r.Assets, name)
}
