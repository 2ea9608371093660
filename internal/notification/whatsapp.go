package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// WhatsAppNotifier sends text messages through the WhatsApp Business Cloud API.
type WhatsAppNotifier struct {
	APIURL        string
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration
	Client        *http.Client
}

func (w *WhatsAppNotifier) Name() string { return "whatsapp" }

func (w *WhatsAppNotifier) Ready() error {
	var missing []string
	if w.PhoneNumberID == "" {
		missing = append(missing, "phone_number_id")
	}
	if w.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteConfig, strings.Join(missing, ", "))
	}
	return nil
}

type whatsAppText struct {
	Body string `json:"body"`
}

type whatsAppMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
}

// Endpoint is the messages URL for the configured phone number.
func (w *WhatsAppNotifier) Endpoint() string {
	return fmt.Sprintf("%s/%s/messages", strings.TrimRight(w.APIURL, "/"), w.PhoneNumberID)
}

func (w *WhatsAppNotifier) Send(ctx context.Context, recipient, text string) (*Result, error) {
	if err := w.Ready(); err != nil {
		return nil, err
	}
	payload := whatsAppMessage{
		MessagingProduct: "whatsapp",
		To:               NormalizeRecipient(recipient),
		Type:             "text",
		Text:             whatsAppText{Body: text},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint(), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+w.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	return doJSON(httpClient(w.Client, w.Timeout), req, "whatsapp")
}
