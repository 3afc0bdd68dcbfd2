package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// LangfuseConfig configures a LangfuseProvider.
type LangfuseConfig struct {
	Host      string
	PublicKey string
	SecretKey string
	Label     string        // Defaults to "production".
	CacheTTL  time.Duration // Defaults to one minute.
	CacheSize int           // Defaults to 128.
	Timeout   time.Duration // Per fetch; defaults to ten seconds.
}

// LangfuseProvider fetches prompts from the Langfuse public API. Results
// are cached for CacheTTL, and concurrent misses for the same name share a
// single fetch.
type LangfuseProvider struct {
	cfg        LangfuseConfig
	httpClient *http.Client
	cache      *expirable.LRU[string, Template]
	group      singleflight.Group
	logger     *slog.Logger
}

// NewLangfuseProvider creates a provider for the given Langfuse host.
func NewLangfuseProvider(cfg LangfuseConfig, logger *slog.Logger) *LangfuseProvider {
	if cfg.Label == "" {
		cfg.Label = "production"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 128
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	return &LangfuseProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      expirable.NewLRU[string, Template](cfg.CacheSize, nil, cfg.CacheTTL),
		logger:     logger,
	}
}

// langfusePrompt is the subset of the prompt resource we read. Chat prompts
// carry a list of messages instead of a string.
type langfusePrompt struct {
	Name    string          `json:"name"`
	Version int             `json:"version"`
	Type    string          `json:"type"`
	Prompt  json.RawMessage `json:"prompt"`
}

type langfuseChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (p *LangfuseProvider) Get(ctx context.Context, name string) (Template, error) {
	if t, ok := p.cache.Get(name); ok {
		return t, nil
	}
	// The shared fetch must not inherit one caller's cancellation.
	fetchCtx := context.WithoutCancel(ctx)
	v, err, _ := p.group.Do(name, func() (any, error) {
		t, err := p.fetch(fetchCtx, name)
		if err != nil {
			return Template{}, err
		}
		p.cache.Add(name, t)
		return t, nil
	})
	if err != nil {
		return Template{}, err
	}
	return v.(Template), nil
}

func (p *LangfuseProvider) fetch(ctx context.Context, name string) (Template, error) {
	u := fmt.Sprintf("%s/api/public/v2/prompts/%s?label=%s",
		p.cfg.Host, url.PathEscape(name), url.QueryEscape(p.cfg.Label))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Template{}, fmt.Errorf("prompts: create request: %w", err)
	}
	req.SetBasicAuth(p.cfg.PublicKey, p.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Template{}, fmt.Errorf("prompts: fetch %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return Template{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Template{}, fmt.Errorf("prompts: fetch %s: status %d: %s", name, resp.StatusCode, string(body))
	}

	var lp langfusePrompt
	if err := json.NewDecoder(resp.Body).Decode(&lp); err != nil {
		return Template{}, fmt.Errorf("prompts: decode %s: %w", name, err)
	}
	text, err := promptText(lp)
	if err != nil {
		return Template{}, fmt.Errorf("prompts: decode %s: %w", name, err)
	}
	p.logger.Debug("prompts: fetched from langfuse",
		"prompt", name, "version", lp.Version, "duration_ms", time.Since(start).Milliseconds())
	return Template{Name: name, Version: lp.Version, Text: text}, nil
}

// promptText flattens a text or chat prompt into one string.
func promptText(lp langfusePrompt) (string, error) {
	if lp.Type == "chat" {
		var msgs []langfuseChatMessage
		if err := json.Unmarshal(lp.Prompt, &msgs); err != nil {
			return "", err
		}
		parts := make([]string, 0, len(msgs))
		for _, m := range msgs {
			parts = append(parts, m.Content)
		}
		return strings.Join(parts, "\n\n"), nil
	}
	var s string
	if err := json.Unmarshal(lp.Prompt, &s); err != nil {
		return "", err
	}
	return s, nil
}
