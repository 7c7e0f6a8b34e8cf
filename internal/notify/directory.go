package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Recipient is a resolved alert destination.
type Recipient struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// DirectoryLookup resolves a device owner's user ID to a recipient.
// Implemented by DirectoryClient; mocked in tests.
type DirectoryLookup interface {
	Lookup(ctx context.Context, userID string) (Recipient, error)
}

// DirectoryClient resolves owners against the external identity
// provider's user directory.
type DirectoryClient struct {
	http *resty.Client
}

// NewDirectoryClient creates a directory client.
func NewDirectoryClient(baseURL string, timeout time.Duration) *DirectoryClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &DirectoryClient{http: client}
}

// Lookup fetches the recipient record for a user ID.
//
// Returns:
//   - Recipient: Name and email for the user
//   - error: ErrNoDestination if the user is unknown or has no email
func (d *DirectoryClient) Lookup(ctx context.Context, userID string) (Recipient, error) {
	var recipient Recipient
	resp, err := d.http.R().
		SetContext(ctx).
		SetResult(&recipient).
		Get("/v1/users/" + userID)
	if err != nil {
		return Recipient{}, fmt.Errorf("querying directory: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return Recipient{}, fmt.Errorf("%w: user %s", ErrNoDestination, userID)
	}
	if resp.IsError() {
		return Recipient{}, fmt.Errorf("directory returned %d: %s", resp.StatusCode(), resp.String())
	}
	if recipient.Email == "" {
		return Recipient{}, fmt.Errorf("%w: user %s has no email", ErrNoDestination, userID)
	}
	return recipient, nil
}
