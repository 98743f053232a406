package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/duesledger/duesledger/internal/auth"
)

func signCmd() *cobra.Command {
	var (
		secret string
		keyID  string
	)
	cmd := &cobra.Command{
		Use:   "sign [payload]",
		Short: "Build a signed private API request body",
		Long: `Print the body of a private API call: the base64 payload and its
base64 HMAC-SHA256 joined by a comma. The payload is a JSON object, read
from the argument or from stdin when the argument is "-". With --key-id
the key id is added to the payload.

Example:
  duesctl sign --secret "$SECRET" '{"username":"alice"}' |
    curl --data-binary @- http://localhost:8080/api/get_member_info`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("DUES_API_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--secret or DUES_API_SECRET is required")
			}
			raw, err := auth.ParseSecret(secret)
			if err != nil {
				return err
			}

			payload := []byte("{}")
			if len(args) == 1 {
				if args[0] == "-" {
					payload, err = io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return fmt.Errorf("read payload: %w", err)
					}
				} else {
					payload = []byte(args[0])
				}
			}

			params, err := auth.ParsePayload(payload)
			if err != nil {
				return err
			}
			if keyID != "" {
				params[auth.KeyIDField], _ = json.Marshal(keyID)
			}
			payload, err = json.Marshal(params)
			if err != nil {
				return fmt.Errorf("encode payload: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(auth.EncodeBody(raw, payload)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&secret, "secret", "s", "", "base64 API key secret (default $DUES_API_SECRET)")
	cmd.Flags().StringVarP(&keyID, "key-id", "k", "", "key id to embed in the payload")
	return cmd
}
