package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

type credentialMessage struct {
	Credential  string    `json:"credential"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// WriterReceiver writes each credential as a JSON line to w.
func WriterReceiver(w io.Writer) Receiver {
	var mu sync.Mutex
	return func(ctx context.Context, credential string) error {
		b, err := json.Marshal(credentialMessage{Credential: credential, DeliveredAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		_, err = w.Write(append(b, '\n'))
		return err
	}
}

// WebhookReceiver posts each credential as JSON to url.
func WebhookReceiver(url string, client *http.Client) Receiver {
	if client == nil {
		client = &http.Client{Timeout: DefaultWebhookTimeout}
	}
	return func(ctx context.Context, credential string) error {
		body, err := json.Marshal(credentialMessage{Credential: credential, DeliveredAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("post webhook: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil
	}
}

// NewReceiver builds the receiver selected by cfg.
func NewReceiver(cfg HostConfig, stdout io.Writer) (Receiver, error) {
	switch cfg.Receiver {
	case ReceiverStdout, "":
		return WriterReceiver(stdout), nil
	case ReceiverWebhook:
		return WebhookReceiver(cfg.WebhookURL, &http.Client{Timeout: cfg.Timeout()}), nil
	default:
		return nil, fmt.Errorf("unknown receiver %q", cfg.Receiver)
	}
}
