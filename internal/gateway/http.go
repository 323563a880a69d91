package gateway

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
)

// maxReplyBytes caps how much of a reply body is read.
const maxReplyBytes = 1 << 20

// HTTPOption configures an [HTTPTransport].
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = c }
}

// HTTPTransport talks to the agent gateway's REST API:
//
//	POST {base}/api/agents/{id}/message
//	Authorization: Bearer {token}
//	{"message": "...", "context": [...]}
//
// The reply text is taken from the "response" field, then "message"; a body
// with neither is returned verbatim.
type HTTPTransport struct {
	base   string
	token  string
	client *http.Client
}

// NewHTTP returns a transport for the gateway at baseURL.
func NewHTTP(baseURL, token string, opts ...HTTPOption) (*HTTPTransport, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway: invalid base URL %q", baseURL)
	}
	t := &HTTPTransport{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		client: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

type httpRequest struct {
	Message string        `json:"message"`
	Context []ContextTurn `json:"context,omitempty"`
}

type httpReply struct {
	Response *string `json:"response"`
	Message  *string `json:"message"`
}

// Send implements [Transport].
func (t *HTTPTransport) Send(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(httpRequest{Message: req.Query, Context: req.Context})
	if err != nil {
		return "", fmt.Errorf("gateway: encode request: %w", err)
	}
	endpoint := t.base + "/api/agents/" + url.PathEscape(req.AgentID) + "/message"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gateway: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gateway: post %s: %w", req.AgentID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("gateway: read reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("gateway: agent %s: status %d: %s", req.AgentID, resp.StatusCode, bytes.TrimSpace(raw))
	}
	return replyText(raw), nil
}

func replyText(raw []byte) string {
	var r httpReply
	if err := json.Unmarshal(raw, &r); err != nil {
		return strings.TrimSpace(string(raw))
	}
	switch {
	case r.Response != nil:
		return *r.Response
	case r.Message != nil:
		return *r.Message
	default:
		return strings.TrimSpace(string(raw))
	}
}
