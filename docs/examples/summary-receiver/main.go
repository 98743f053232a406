// Dues Summary Receiver Example
//
// A minimal mailer endpoint that verifies and prints the dues summaries
// posted by `duesctl notify send` when MAILER_WEBHOOK_URL is set.
//
// Usage:
//   export MAILER_WEBHOOK_SECRET="your_shared_secret"
//   go run main.go
//
// Then point the ledger at it: MAILER_WEBHOOK_URL=http://your-server:9000/summary

package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"
)

const replayWindow = 5 * time.Minute

// Summary is the part of the webhook payload a mailer needs.
type Summary struct {
	Username  string `json:"username"`
	MonthsDue int    `json:"months_due"`
	AmountDue int64  `json:"amount_due"`
	Level     string `json:"level"`
	Text      string `json:"text"`
}

func main() {
	secret := os.Getenv("MAILER_WEBHOOK_SECRET")
	if secret == "" {
		log.Fatal("MAILER_WEBHOOK_SECRET environment variable is required")
	}

	http.HandleFunc("/summary", summaryHandler(secret))
	http.HandleFunc("/health", healthHandler)

	log.Println("Starting summary receiver on :9000")
	log.Fatal(http.ListenAndServe(":9000", nil))
}

func summaryHandler(secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		if err := verify(secret, r.Header.Get("X-Dues-Signature"), r.Header.Get("X-Dues-Timestamp"), body); err != nil {
			log.Printf("Rejected delivery %s: %v", r.Header.Get("X-Dues-Delivery-Id"), err)
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}

		var s Summary
		if err := json.Unmarshal(body, &s); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		// A real mailer would look up the member's address and send s.Text.
		log.Printf("Summary for %s (%s): %d months, %d.%02d due",
			s.Username, s.Level, s.MonthsDue, s.AmountDue/100, s.AmountDue%100)
		log.Printf("\n%s", s.Text)

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "received"})
	}
}

// verify checks the hex HMAC-SHA256 of "{timestamp}.{body}".
func verify(secret, signature, timestamp string, body []byte) error {
	if signature == "" || timestamp == "" {
		return fmt.Errorf("missing signature headers")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("bad timestamp")
	}
	if age := time.Since(time.Unix(ts, 0)); age > replayWindow || age < -replayWindow {
		return fmt.Errorf("timestamp outside replay window")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
