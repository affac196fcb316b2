package caldav

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/jw6ventures/esn-calendar/internal/config"
)

const (
	MethodITIP      = "ITIP"
	MethodPropfind  = "PROPFIND"
	MethodProppatch = "PROPPATCH"
	MethodACL       = "ACL"

	maxErrorBody = 4 << 10
)

// StatusError is returned for any non-2xx answer of the DAV server.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dav %s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// Client talks to the DAV server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for cfg.DAV. When client credentials are set,
// requests carry an OAuth2 bearer token obtained from the token endpoint.
func NewClient(ctx context.Context, cfg *config.Config) *Client {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if cfg.DAV.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.DAV.ClientID,
			ClientSecret: cfg.DAV.ClientSecret,
			TokenURL:     cfg.DAV.TokenURL,
		}
		httpClient = cc.Client(ctx)
		httpClient.Timeout = 30 * time.Second
	}
	return NewClientWithHTTP(cfg.DAV.URL, httpClient)
}

// NewClientWithHTTP builds a client on an existing http.Client.
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// do sends body as JSON and decodes a JSON answer into out when out is not nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	case json.RawMessage:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", method, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dav %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, URL: target, StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode dav %s response: %w", method, err)
	}
	return nil
}

// ITipRequest hands an inbound iTIP message to the calendar home of userID.
// message is sent verbatim.
func (c *Client) ITipRequest(ctx context.Context, userID string, message json.RawMessage) error {
	return c.do(ctx, MethodITIP, "/calendars/"+url.PathEscape(userID), nil, message, nil)
}
