package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Service posts alert payloads to webhook URLs with a bounded timeout.
// Delivery is one-shot: a failed send is the caller's to log, never retried
// here.
type Service struct {
	client *http.Client
}

func NewService(timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *Service) Send(ctx context.Context, url, secret string, event AlertPayload) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pulsegrid-Event", "alert.fired")
	req.Header.Set("User-Agent", "Pulsegrid-Webhook/1.0")
	if secret != "" {
		req.Header.Set("X-Pulsegrid-Signature", Sign(secret, payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}

	return nil
}
