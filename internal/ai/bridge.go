// Package ai holds the assistant provider settings and connectivity probes.
// The key never leaves the process; status endpoints only report whether one
// is set.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderMistral   = "mistral"
	ProviderAnthropic = "anthropic"
)

var providers = map[string]bool{
	ProviderOllama:    true,
	ProviderOpenAI:    true,
	ProviderGemini:    true,
	ProviderMistral:   true,
	ProviderAnthropic: true,
}

// Settings is the active provider selection.
type Settings struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"-"`
}

// Status is the redacted view returned over REST.
type Status struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	BaseURL   string `json:"base_url"`
	HasAPIKey bool   `json:"has_api_key"`
}

type Bridge struct {
	mu       sync.Mutex
	settings Settings
	client   *http.Client
}

func New(initial Settings) *Bridge {
	if initial.Provider == "" {
		initial.Provider = ProviderOllama
	}
	return &Bridge{
		settings: initial,
		client:   &http.Client{Timeout: 3 * time.Second},
	}
}

func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Provider:  b.settings.Provider,
		Model:     b.settings.Model,
		BaseURL:   b.settings.BaseURL,
		HasAPIKey: b.settings.APIKey != "",
	}
}

// Update applies the fields that are set and returns the new redacted view.
func (b *Bridge) Update(provider, model, baseURL, apiKey string) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if provider != "" {
		if !providers[provider] {
			return Status{}, fmt.Errorf("unknown provider %q", provider)
		}
		b.settings.Provider = provider
	}
	if model != "" {
		b.settings.Model = model
	}
	if baseURL != "" {
		b.settings.BaseURL = baseURL
	}
	if apiKey != "" {
		b.settings.APIKey = apiKey
	}
	return Status{
		Provider:  b.settings.Provider,
		Model:     b.settings.Model,
		BaseURL:   b.settings.BaseURL,
		HasAPIKey: b.settings.APIKey != "",
	}, nil
}

// Models lists what the active provider can serve. For ollama it asks the
// local daemon; for hosted providers it returns the known model names.
func (b *Bridge) Models(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	s := b.settings
	b.mu.Unlock()

	if s.Provider == ProviderOllama {
		return b.ollamaModels(ctx, s.BaseURL)
	}

	hosted := map[string][]string{
		ProviderOpenAI:    {"gpt-4o", "gpt-4o-mini", "gpt-4.1"},
		ProviderGemini:    {"gemini-1.5-pro", "gemini-1.5-flash", "gemini-2.0-flash"},
		ProviderMistral:   {"mistral-large-latest", "mistral-small-latest", "codestral-latest"},
		ProviderAnthropic: {"claude-3-5-sonnet-latest", "claude-3-5-haiku-latest"},
	}
	models, ok := hosted[s.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", s.Provider)
	}
	return models, nil
}

func (b *Bridge) ollamaModels(ctx context.Context, baseURL string) ([]string, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama unreachable at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned %s", resp.Status)
	}
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		out = append(out, m.Name)
	}
	sort.Strings(out)
	return out, nil
}

// OllamaAvailable reports whether the local Ollama daemon answers its tags
// endpoint. Used as a capability flag; an outage never affects other routes.
func (b *Bridge) OllamaAvailable(ctx context.Context) bool {
	b.mu.Lock()
	baseURL := b.settings.BaseURL
	b.mu.Unlock()
	_, err := b.ollamaModels(ctx, baseURL)
	return err == nil
}

// TestConnection probes the active provider. Ollama gets a live /api/tags
// call; hosted providers only require a key to be present, the first real
// request surfaces anything deeper.
func (b *Bridge) TestConnection(ctx context.Context) error {
	b.mu.Lock()
	s := b.settings
	b.mu.Unlock()

	if s.Provider == ProviderOllama {
		_, err := b.ollamaModels(ctx, s.BaseURL)
		return err
	}
	if s.APIKey == "" {
		return fmt.Errorf("provider %s requires an API key", s.Provider)
	}
	return nil
}
