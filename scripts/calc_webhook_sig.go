package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// calc_webhook_sig.go - Utility to calculate the HMAC-SHA256 signature
// sent in the X-Pulsegrid-Signature header of webhook deliveries
//
// Usage:
//   go run scripts/calc_webhook_sig.go <secret> <payload>
//
// Example:
//   go run scripts/calc_webhook_sig.go devsecret '{"alert_id":"a1"}'
//
// Output:
//   sha256=4f0bcbd8a4b6b76e9a2d6e0d6c2d8f1b...

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: go run calc_webhook_sig.go <secret> <payload>")
		fmt.Println("")
		fmt.Println("Example:")
		fmt.Println("  go run scripts/calc_webhook_sig.go devsecret '{\"alert_id\":\"a1\"}'")
		os.Exit(1)
	}

	secret := os.Args[1]
	payload := os.Args[2]

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))

	fmt.Printf("Payload:   %s\n", payload)
	fmt.Printf("Signature: sha256=%s\n", hex.EncodeToString(mac.Sum(nil)))
}
