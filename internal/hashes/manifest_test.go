package hashes_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"capstan/internal/hashes"
)

const (
	wheelDigest = "b5bb9d8014a0f9b1d61e21e796d78dccdf1352f23cd32812f4850b878ae4944c"
	sdistDigest = "7d865e959b2466918c9863afca942d0fb89d7c9ac0c99bafc3749504ded97730"
)

func encodeLines(lines ...string) string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Join(lines, "\n") + "\n"))
}

func TestDecodeRoundTrips(t *testing.T) {
	encoded := encodeLines(
		wheelDigest+"  pyhanko-1.2.3-py3-none-any.whl",
		sdistDigest+"  pyhanko-1.2.3.tar.gz",
	)

	m, err := hashes.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", m.Len())
	}
	digest, ok := m.DigestFor("pyhanko-1.2.3.tar.gz")
	if !ok || digest != sdistDigest {
		t.Fatalf("unexpected sdist digest: %q ok=%v", digest, ok)
	}

	if m.Encode() != encoded {
		t.Fatalf("expected stable re-encode, got %q", m.Encode())
	}
}

func TestDecodeToleratesBinaryMarkerAndBlankLines(t *testing.T) {
	encoded := encodeLines(
		"",
		wheelDigest+"  *pyhanko-1.2.3-py3-none-any.whl",
		"",
	)
	m, err := hashes.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := m.DigestFor("pyhanko-1.2.3-py3-none-any.whl"); !ok {
		t.Fatal("expected binary-marker name to be normalized")
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"not base64":    "%%%",
		"no separator":  base64.StdEncoding.EncodeToString([]byte(wheelDigest + " single-space.whl\n")),
		"short digest":  encodeLines("abc123  file.whl"),
		"no entries":    base64.StdEncoding.EncodeToString([]byte("\n\n")),
		"duplicate":     encodeLines(wheelDigest+"  a.whl", sdistDigest+"  a.whl"),
		"missing name":  encodeLines(wheelDigest + "  "),
		"invalid chars": encodeLines(strings.Repeat("z", 64) + "  file.whl"),
	}
	for name, encoded := range cases {
		if _, err := hashes.Decode(encoded); err == nil {
			t.Fatalf("%s: expected decode error", name)
		}
	}
}

func TestCoversReportsMissingArtifacts(t *testing.T) {
	m, err := hashes.Decode(encodeLines(wheelDigest + "  pyhanko-1.2.3-py3-none-any.whl"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if err := m.Covers([]string{"dist/pyhanko-1.2.3-py3-none-any.whl"}); err != nil {
		t.Fatalf("expected base-name match, got %v", err)
	}

	err = m.Covers([]string{"pyhanko-1.2.3.tar.gz"})
	if err == nil {
		t.Fatal("expected missing artifact error")
	}
	if !strings.Contains(err.Error(), "pyhanko-1.2.3.tar.gz") {
		t.Fatalf("expected missing name in error, got %v", err)
	}
}
