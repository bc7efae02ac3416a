package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPMailer posts messages to a transactional mail API that accepts
// {"from","to","subject","html"} JSON with bearer authentication.
type HTTPMailer struct {
	Endpoint string
	Token    string
	From     string
	Client   *http.Client
	Timeout  time.Duration
}

// NewHTTPMailer returns a mailer with a traced HTTP client.
func NewHTTPMailer(endpoint, token, from string, timeout time.Duration) *HTTPMailer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPMailer{
		Endpoint: strings.TrimSpace(endpoint),
		Token:    token,
		From:     from,
		Timeout:  timeout,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type mailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Send implements common.EmailSender.
func (m *HTTPMailer) Send(to, subject, html string) error {
	if m == nil || m.Endpoint == "" {
		return errors.New("mailer: endpoint not configured")
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("mailer: recipient required")
	}
	body, err := json.Marshal(mailRequest{From: m.From, To: []string{to}, Subject: subject, HTML: html})
	if err != nil {
		return fmt.Errorf("mailer: encode: %w", err)
	}

	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mailer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.Token != "" {
		req.Header.Set("Authorization", "Bearer "+m.Token)
	}

	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("mailer: deliver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mailer: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
