package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"sprout-agent/internal/domain"
)

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type tokenPayload struct {
	Token string `json:"token"`
}

// Client generates chat completions with the Gemini API. The underlying
// genai client is created on first use from the token stored under the
// parameter prefix; a failed creation is retried on the next call.
type Client struct {
	getter      Getter
	paramPrefix string
	baseURL     string
	httpClient  *http.Client

	mu     sync.Mutex
	client *genai.Client
}

// StatusError carries the HTTP status of a failed Gemini API call.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini: generate content: status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

func (e *StatusError) HTTPStatusCode() int { return e.Code }

type Option func(*Client)

// WithBaseURL points the client at a non-default endpoint (tests, proxies).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("gemini: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("gemini: parameter prefix must not be empty")
	}
	c := &Client{getter: ps, paramPrefix: paramPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func TokenParameterName(prefix string) string {
	return strings.TrimRight(prefix, "/") + "/gemini-token"
}

func ModelParameterName(prefix string) string {
	return strings.TrimRight(prefix, "/") + "/config/gemini_model"
}

func (c *Client) genaiClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	raw, err := c.getter.GetParameter(ctx, TokenParameterName(c.paramPrefix))
	if err != nil {
		return nil, fmt.Errorf("gemini: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return nil, fmt.Errorf("gemini: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return nil, errors.New("gemini: API token is empty")
	}

	cfg := &genai.ClientConfig{
		APIKey:     tp.Token,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.client = client
	return client, nil
}

// Complete sends the conversation to Gemini. System messages become the
// system instruction; assistant turns are sent with the model role.
func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	model, err := c.getter.GetParameter(ctx, ModelParameterName(c.paramPrefix))
	if err != nil {
		return "", fmt.Errorf("gemini: load model name: %w", err)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("gemini: model must not be empty")
	}

	client, err := c.genaiClient(ctx)
	if err != nil {
		return "", err
	}

	system, contents := toContents(messages)
	if len(contents) == 0 {
		return "", errors.New("gemini: no conversation content to send")
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if system != nil {
		cfg.SystemInstruction = system
	}

	resp, err := client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &StatusError{Code: apiErr.Code, Err: err}
		}
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("gemini: empty response")
	}
	return text, nil
}

// toContents splits system messages out into one instruction and maps the
// rest to genai contents.
func toContents(messages []domain.ChatMessage) (*genai.Content, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) == 0 {
		return nil, contents
	}
	return genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser), contents
}
