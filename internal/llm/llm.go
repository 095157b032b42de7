package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Provider is the interface for language model providers.
type Provider interface {
	Summarize(ctx context.Context, prompt string) (string, error)
	Topics(ctx context.Context, text string) ([]string, error)
}

// ErrNotConfigured is returned when a provider lacks credentials.
var ErrNotConfigured = errors.New("llm provider not configured")

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// maxTopics caps the labels kept from a topics response.
const maxTopics = 6

// OpenAIConfig configures an OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey        string
	Model         string
	Temperature   float32
	MaxTokens     int
	BaseURL       string
	UseOpenRouter bool
	SiteURL       string
	SiteName      string
}

// OpenAIProvider talks to the OpenAI chat completions API, or to any
// compatible endpoint such as OpenRouter.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	configured  bool
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	cc := openai.DefaultConfig(cfg.APIKey)
	model := cfg.Model
	if cfg.UseOpenRouter {
		cc.BaseURL = openRouterBaseURL
		cc.HTTPClient = &http.Client{
			Timeout: 120 * time.Second,
			Transport: &headerTransport{headers: map[string]string{
				"HTTP-Referer": cfg.SiteURL,
				"X-Title":      cfg.SiteName,
			}},
		}
		if model == "" {
			model = "gpt-4o-mini"
		}
		if !strings.Contains(model, "/") {
			model = "openai/" + model
		}
	} else {
		cc.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(cc),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		configured:  cfg.APIKey != "",
	}
}

// Model returns the resolved model name.
func (o *OpenAIProvider) Model() string {
	return o.model
}

// IsConfigured reports whether an API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.configured
}

// Summarize sends prompt and returns the model's reply.
func (o *OpenAIProvider) Summarize(ctx context.Context, prompt string) (string, error) {
	return o.generate(ctx, prompt)
}

// Topics asks the model for up to six topic labels describing text.
func (o *OpenAIProvider) Topics(ctx context.Context, text string) ([]string, error) {
	return requestTopics(ctx, o.generate, text)
}

func (o *OpenAIProvider) generate(ctx context.Context, prompt string) (string, error) {
	if !o.configured {
		return "", ErrNotConfigured
	}
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: o.temperature,
	}
	if o.maxTokens > 0 {
		req.MaxTokens = o.maxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in openai response")
	}
	slog.Debug("openai completion", "model", o.model, "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// OllamaProvider talks to a local Ollama server over its chat API.
type OllamaProvider struct {
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	client      *http.Client
}

func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		Model:       model,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Temperature: 0.3,
		MaxTokens:   2048,
		client:      &http.Client{Timeout: 180 * time.Second},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  struct {
		NumPredict  int     `json:"num_predict"`
		Temperature float64 `json:"temperature"`
	} `json:"options"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
}

type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// IsConfigured reports whether the server answers and has the model pulled.
func (o *OllamaProvider) IsConfigured(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var tags ollamaTags
	if err := o.call(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		slog.Debug("ollama not reachable", "url", o.BaseURL, "error", err)
		return false
	}
	family, _, _ := strings.Cut(o.Model, ":")
	for _, m := range tags.Models {
		if m.Name == o.Model || strings.HasPrefix(m.Name, family+":") || m.Name == family {
			return true
		}
	}
	slog.Warn("ollama model not pulled", "model", o.Model)
	return false
}

func (o *OllamaProvider) Summarize(ctx context.Context, prompt string) (string, error) {
	return o.generate(ctx, prompt)
}

// Topics asks the model for up to six topic labels describing text.
func (o *OllamaProvider) Topics(ctx context.Context, text string) ([]string, error) {
	return requestTopics(ctx, o.generate, text)
}

func (o *OllamaProvider) generate(ctx context.Context, prompt string) (string, error) {
	req := ollamaChatRequest{
		Model:    o.Model,
		Messages: []ollamaMessage{{Role: "user", Content: prompt}},
	}
	req.Options.NumPredict = o.MaxTokens
	req.Options.Temperature = o.Temperature

	var resp ollamaChatResponse
	if err := o.call(ctx, http.MethodPost, "/api/chat", req, &resp); err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return resp.Message.Content, nil
}

// call sends body as JSON (when non-nil) and decodes the reply into out.
func (o *OllamaProvider) call(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, o.BaseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// TopicsPrompt builds the prompt used to label text with topics.
func TopicsPrompt(text string) string {
	return fmt.Sprintf("Provide up to %d words that describe the topic of the following text:\n\n%q\n\n"+
		"Response format MUST be a JSON array of strings, for example:\n\n[\"word1\", \"word2\", \"word3\"]\n",
		maxTopics, text)
}

func requestTopics(ctx context.Context, generate func(context.Context, string) (string, error), text string) ([]string, error) {
	reply, err := generate(ctx, TopicsPrompt(text))
	if err != nil {
		return nil, err
	}
	var topics []string
	if err := ParseJSON(reply, &topics); err != nil {
		return nil, fmt.Errorf("parsing topics: %w", err)
	}
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		out = append(out, t)
		if len(out) == maxTopics {
			break
		}
	}
	return out, nil
}
