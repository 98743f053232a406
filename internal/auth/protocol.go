// Package auth implements the private API authentication protocol.
//
// A request body is "payload_b64,mac_b64" where both segments are standard
// base64 (with padding) and mac = HMAC-SHA256(secret, payload). The payload
// is a JSON object carrying the call parameters.
package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
)

var (
	// ErrMalformedBody means the body is not two base64 segments.
	ErrMalformedBody = errors.New("malformed request body")
	// ErrMalformedPayload means the authenticated payload is not a JSON object.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUnauthorized means no active key produced the supplied MAC.
	ErrUnauthorized = errors.New("unauthorized")
)

// KeyIDField names the optional payload field that selects the signing key.
const KeyIDField = "key_id"

// Sign computes the MAC for payload under secret.
func Sign(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

// Verify reports whether mac is the MAC of payload under secret.
// The comparison is constant time.
func Verify(secret, payload, mac []byte) bool {
	return hmac.Equal(Sign(secret, payload), mac)
}

// EncodeBody builds a request body for payload signed with secret.
func EncodeBody(secret, payload []byte) []byte {
	enc := base64.StdEncoding
	out := make([]byte, 0, enc.EncodedLen(len(payload))+enc.EncodedLen(sha256.Size)+1)
	out = enc.AppendEncode(out, payload)
	out = append(out, ',')
	return enc.AppendEncode(out, Sign(secret, payload))
}

// DecodeBody splits a request body into its payload and MAC.
func DecodeBody(body []byte) (payload, mac []byte, err error) {
	body = bytes.TrimSpace(body)
	parts := bytes.Split(body, []byte(","))
	if len(parts) != 2 {
		return nil, nil, ErrMalformedBody
	}

	payload, err = base64.StdEncoding.AppendDecode(nil, parts[0])
	if err != nil {
		return nil, nil, ErrMalformedBody
	}
	mac, err = base64.StdEncoding.AppendDecode(nil, parts[1])
	if err != nil || len(mac) == 0 {
		return nil, nil, ErrMalformedBody
	}
	return payload, mac, nil
}

// Params holds the decoded payload fields.
type Params map[string]json.RawMessage

// ParsePayload decodes payload as a JSON object. An empty payload is an
// empty object.
func ParsePayload(payload []byte) (Params, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return Params{}, nil
	}
	var p Params
	if err := json.Unmarshal(payload, &p); err != nil || p == nil {
		return nil, ErrMalformedPayload
	}
	return p, nil
}

// Decode unmarshals the params into v, a pointer to a struct.
func (p Params) Decode(v any) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return ErrMalformedPayload
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return ErrMalformedPayload
	}
	return nil
}

// peekKeyID returns the key_id field if payload is a JSON object carrying one.
func peekKeyID(payload []byte) string {
	var probe struct {
		KeyID string `json:"key_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.KeyID
}
