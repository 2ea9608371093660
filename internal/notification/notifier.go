package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"whatsapp-alert/internal/config"
	"whatsapp-alert/internal/logging"
)

// ErrIncompleteConfig is returned by Ready when credentials are missing.
var ErrIncompleteConfig = errors.New("notifier configuration incomplete")

// Notifier delivers one message to one recipient per Send call. Send makes
// a single attempt; retries are the caller's concern.
type Notifier interface {
	Name() string
	// Ready reports whether the notifier has what it needs to send.
	Ready() error
	Send(ctx context.Context, recipient, text string) (*Result, error)
}

// Result is the transport's answer to a successful send.
type Result struct {
	StatusCode int
	Response   map[string]any
}

// BuildNotifier returns the notifier selected by cfg.Dispatch.Channel.
func BuildNotifier(cfg *config.Config) (Notifier, error) {
	switch cfg.Dispatch.Channel {
	case "", "whatsapp":
		return &WhatsAppNotifier{
			APIURL:        cfg.WhatsApp.APIURL,
			PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
			AccessToken:   cfg.WhatsApp.AccessToken,
			Timeout:       cfg.WhatsApp.GetTimeout(),
		}, nil
	case "console":
		return &ConsoleNotifier{}, nil
	case "webhook":
		return &WebhookNotifier{
			URL:     cfg.Dispatch.Webhook.URL,
			Headers: cfg.Dispatch.Webhook.Headers,
			Timeout: config.ParseDurationDefault(cfg.Dispatch.Webhook.Timeout, 5*time.Second),
		}, nil
	default:
		return nil, fmt.Errorf("unknown dispatch channel %q", cfg.Dispatch.Channel)
	}
}

// Console
type ConsoleNotifier struct{}

func (c *ConsoleNotifier) Name() string { return "console" }
func (c *ConsoleNotifier) Ready() error { return nil }
func (c *ConsoleNotifier) Send(ctx context.Context, recipient, text string) (*Result, error) {
	logging.Infof("[ALERT][console] to=%s\n%s", NormalizeRecipient(recipient), text)
	return &Result{}, nil
}

// Webhook posts {"recipient","message","ts"} to a fixed URL.
type WebhookNotifier struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Client  *http.Client
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Ready() error {
	if w.URL == "" {
		return fmt.Errorf("%w: missing webhook url", ErrIncompleteConfig)
	}
	return nil
}

func (w *WebhookNotifier) Send(ctx context.Context, recipient, text string) (*Result, error) {
	body := map[string]any{
		"recipient": NormalizeRecipient(recipient),
		"message":   text,
		"ts":        time.Now().UTC().Format(time.RFC3339),
	}
	data, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}
	return doJSON(httpClient(w.Client, w.Timeout), req, "webhook")
}

func httpClient(c *http.Client, timeout time.Duration) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: timeout}
}

// doJSON executes req and decodes a JSON object response if there is one.
// A status of 300 or above is an error carrying the response body.
func doJSON(client *http.Client, req *http.Request, name string) (*Result, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		if len(body) == 0 {
			body = []byte("No response body")
		}
		return nil, &StatusError{Channel: name, StatusCode: resp.StatusCode, Body: string(body)}
	}
	res := &Result{StatusCode: resp.StatusCode}
	if len(body) > 0 {
		var decoded map[string]any
		if err := json.Unmarshal(body, &decoded); err == nil {
			res.Response = decoded
		}
	}
	return res, nil
}

// StatusError is an HTTP response outside the 2xx range.
type StatusError struct {
	Channel    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status=%d body=%s", e.Channel, e.StatusCode, e.Body)
}
