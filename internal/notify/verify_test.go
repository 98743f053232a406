package notify

import (
	"crypto/hmac"
	"errors"
	"time"
)

// Receiver-side checks used by the webhook tests. Production receivers
// verify on their own side; see docs/examples/summary-receiver.

var (
	errStaleTimestamp = errors.New("timestamp outside replay window")
	errBadSignature   = errors.New("invalid signature")
)

const testReplayWindow = 5 * time.Minute

func verifySignature(secret, signature string, timestamp int64, body []byte, now time.Time) error {
	skew := now.Unix() - timestamp
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(testReplayWindow.Seconds()) {
		return errStaleTimestamp
	}
	expected := GenerateSignature(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errBadSignature
	}
	return nil
}
