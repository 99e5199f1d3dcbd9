// Package ollama talks to an Ollama server over its HTTP API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatbot-gateway/pkg/settings"
)

const (
	GenerateTimeout = 120 * time.Second
	ListTimeout     = 5 * time.Second

	// TopP is sent with every request.
	TopP = 0.9

	FallbackReply = "Entschuldigung, ich konnte keine Antwort generieren."
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Kind int

const (
	// KindUnavailable means the server could not be reached at all.
	KindUnavailable Kind = iota + 1
	// KindFailed covers timeouts, non-2xx answers and undecodable bodies.
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind   Kind
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ollama %s (%s): status %d: %v", e.Kind, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("ollama %s (%s): %v", e.Kind, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
}

type chatRequest struct {
	Model    string      `json:"model"`
	Messages []Message   `json:"messages"`
	Stream   bool        `json:"stream"`
	Options  chatOptions `json:"options"`
}

type chatResponse struct {
	Model   string   `json:"model"`
	Message *Message `json:"message"`
	Done    bool     `json:"done"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeouts(generate, list time.Duration) Option {
	return func(c *Client) {
		c.generateTimeout = generate
		c.listTimeout = list
	}
}

// Client is safe for concurrent use. The backend URL and model come from the
// settings passed to each call, so configuration changes apply immediately.
type Client struct {
	http            *http.Client
	generateTimeout time.Duration
	listTimeout     time.Duration
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		http:            &http.Client{},
		generateTimeout: GenerateTimeout,
		listTimeout:     ListTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Generate sends the system prompt followed by history to /api/chat and returns
// the assistant content. A response without content yields FallbackReply.
func (c *Client) Generate(ctx context.Context, eff settings.Effective, systemPrompt string, history []Message) (string, error) {
	msgs := make([]Message, 0, len(history)+1)
	msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	msgs = append(msgs, history...)

	body, err := json.Marshal(chatRequest{
		Model:    eff.Model,
		Messages: msgs,
		Stream:   false,
		Options: chatOptions{
			Temperature: eff.Temperature,
			TopP:        TopP,
			NumPredict:  eff.MaxTokens,
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.generateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, eff.BackendURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: KindUnavailable, URL: eff.BackendURL, Err: errors.Wrap(err, "failed to create request")}
	}
	req.Header.Set("Content-Type", "application/json")

	var resp chatResponse
	if err := c.do(req, eff.BackendURL, &resp); err != nil {
		return "", err
	}
	if resp.Message == nil || resp.Message.Content == "" {
		return FallbackReply, nil
	}
	return resp.Message.Content, nil
}

// ListModels returns the names reported by /api/tags.
func (c *Client) ListModels(ctx context.Context, baseURL string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, URL: baseURL, Err: errors.Wrap(err, "failed to create request")}
	}

	var tags tagsResponse
	if err := c.do(req, baseURL, &tags); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (c *Client) do(req *http.Request, baseURL string, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: transportKind(err), URL: baseURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{Kind: KindFailed, URL: baseURL, Status: resp.StatusCode, Err: errors.Errorf("ollama error: %s", bytes.TrimSpace(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindFailed, URL: baseURL, Err: errors.Wrap(err, "failed to decode response")}
	}
	return nil
}

// transportKind separates "nobody answered" from "the answer took too long".
// Failing to connect, timeouts included, counts as unreachable.
func transportKind(err error) Kind {
	var oe *net.OpError
	if errors.As(err, &oe) && oe.Op == "dial" {
		return KindUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindFailed
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindFailed
	}
	return KindUnavailable
}
