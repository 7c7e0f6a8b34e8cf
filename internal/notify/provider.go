package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// EmailSender delivers one rendered alert to a destination address.
// Implemented by ProviderClient; mocked in tests.
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// ProviderClient talks to the external email/notification provider.
//
// Retries are owned by the Notifier's backoff loop, so the underlying
// HTTP client performs exactly one attempt per call.
type ProviderClient struct {
	http   *resty.Client
	sender string
}

// sendRequest is the provider's message payload.
type sendRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
}

// NewProviderClient creates a provider client.
//
// Parameters:
//   - baseURL: Provider API base URL
//   - apiKey: Bearer token for the provider
//   - sender: From-address for alert emails
//   - timeout: Per-attempt request timeout
func NewProviderClient(baseURL, apiKey, sender string, timeout time.Duration) *ProviderClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetAuthToken(apiKey)

	return &ProviderClient{http: client, sender: sender}
}

// Send posts one message to the provider.
//
// Returns:
//   - error: On transport failure or any non-2xx provider response
func (p *ProviderClient) Send(ctx context.Context, to, subject, htmlBody string) error {
	resp, err := p.http.R().
		SetContext(ctx).
		SetBody(sendRequest{
			From:     p.sender,
			To:       to,
			Subject:  subject,
			HTMLBody: htmlBody,
		}).
		Post("/v1/messages")
	if err != nil {
		return fmt.Errorf("posting to provider: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
