package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/npezzotti/go-ticketchat/internal/auth"
	"github.com/npezzotti/go-ticketchat/internal/types"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodySize    = 1 << 20
)

// Client talks to the ticketing REST API on behalf of the local user.
type Client struct {
	baseURL    string
	tokens     auth.TokenSource
	httpClient *http.Client
	log        *log.Logger
}

// NewClient returns a client for the API rooted at baseURL. A nil
// httpClient uses one with a ten second timeout.
func NewClient(baseURL string, tokens auth.TokenSource, httpClient *http.Client, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		tokens:     tokens,
		httpClient: httpClient,
		log:        logger,
	}
}

// CurrentUser fetches the authenticated user's profile.
func (c *Client) CurrentUser(ctx context.Context) (types.User, error) {
	var u types.User
	if err := c.get(ctx, "/auth/me/", &u); err != nil {
		return types.User{}, err
	}
	if u.Id == 0 {
		return types.User{}, fmt.Errorf("current user: %w", auth.ErrNoIdentity)
	}
	return u, nil
}

// ResolveSelf determines the local user. Token claims are used when
// they identify the user by id and name; otherwise the profile
// endpoint is consulted. A token with an id but no name still resolves
// if the endpoint is unreachable.
func (c *Client) ResolveSelf(ctx context.Context) (types.User, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return types.User{}, err
	}

	claimed, claimErr := auth.UserFromToken(tok)
	if claimErr == nil && claimed.Username != "" {
		return claimed, nil
	}

	u, err := c.CurrentUser(ctx)
	if err == nil {
		return u, nil
	}
	if claimErr == nil && !IsUnauthorized(err) {
		c.log.Println("profile lookup failed, using token claims:", err)
		return claimed, nil
	}
	return types.User{}, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	tok, err := c.tokens.Token()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newApiError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &ApiError{
			StatusCode: resp.StatusCode,
			Message:    "invalid response body",
			Err:        err,
		}
	}

	return nil
}
