package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SMSSender posts messages to a Mobizon-compatible HTTP SMS API
// (form fields apiKey, recipient, text and optional from).
type SMSSender struct {
	url    string
	apiKey string
	sender string
	client *http.Client
}

type smsResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MessageID string `json:"messageId"`
	} `json:"data"`
}

func NewSMSSender(cfg SMSConfig, client *http.Client) *SMSSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SMSSender{url: cfg.URL, apiKey: cfg.APIKey, sender: cfg.Sender, client: client}
}

func (s *SMSSender) Send(ctx context.Context, msg Message) error {
	form := url.Values{
		"apiKey":    {s.apiKey},
		"recipient": {strings.TrimPrefix(msg.Address, "+")},
		"text":      {msg.Body},
	}
	if s.sender != "" {
		form.Set("from", s.sender)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("sms send: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Transient(fmt.Errorf("sms read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Transient(fmt.Errorf("sms provider status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return fmt.Errorf("sms provider status %d", resp.StatusCode)
	}

	var out smsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("sms parse response: %w", err)
	}
	if out.Code != 0 {
		return fmt.Errorf("sms provider error code %d: %s", out.Code, out.Message)
	}
	return nil
}
