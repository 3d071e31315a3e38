package forge

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SignatureHeader is the request header carrying the webhook HMAC.
const SignatureHeader = "X-Hub-Signature-256"

// DeliveryHeader is the request header carrying the unique delivery ID.
const DeliveryHeader = "X-GitHub-Delivery"

// EventHeader is the request header naming the webhook event type.
const EventHeader = "X-GitHub-Event"

// VerifyWebhookSignature checks the HMAC-SHA256 signature on a webhook
// payload. The signature is the hex digest, with or without the
// "sha256=" prefix the forge sends. The error never includes the
// expected digest.
func VerifyWebhookSignature(secret, body []byte, signature string) error {
	if len(secret) == 0 {
		return errors.New("webhook signature: secret is empty")
	}
	if len(body) == 0 {
		return errors.New("webhook signature: body is empty")
	}
	if signature == "" {
		return errors.New("webhook signature: signature is empty")
	}

	hexSignature := strings.TrimPrefix(signature, "sha256=")
	signatureBytes, err := hex.DecodeString(hexSignature)
	if err != nil {
		return fmt.Errorf("webhook signature: invalid hex signature: %w", err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(expected, signatureBytes) != 1 {
		return errors.New("webhook signature: signature mismatch")
	}
	return nil
}

// PushEvent is the subset of a forge push delivery the intake cares
// about.
type PushEvent struct {
	Ref     string `json:"ref"`
	Deleted bool   `json:"deleted"`
	Pusher  struct {
		Name string `json:"name"`
	} `json:"pusher"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// Requester returns the account behind the push, preferring the sender
// login.
func (e PushEvent) Requester() string {
	if login := strings.TrimSpace(e.Sender.Login); login != "" {
		return login
	}
	return strings.TrimSpace(e.Pusher.Name)
}

// ParsePushEvent decodes a push delivery payload.
func ParsePushEvent(body []byte) (PushEvent, error) {
	var event PushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return event, fmt.Errorf("parse push event: %w", err)
	}
	if strings.TrimSpace(event.Ref) == "" {
		return event, errors.New("parse push event: payload carried no ref")
	}
	return event, nil
}
