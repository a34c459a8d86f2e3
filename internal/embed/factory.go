package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// ProviderType names an embedding backend.
type ProviderType string

const (
	// ProviderOllama uses a local Ollama server for embeddings.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses the hash-based fallback (no network required).
	ProviderStatic ProviderType = "static"
)

// NewEmbedder builds an embedder for the given provider and model,
// wrapping it in a query cache unless caching is disabled.
//
// The ECMEM_EMBEDDER environment variable overrides provider selection
// ("ollama" or "static"); ECMEM_EMBED_CACHE=false disables the cache.
// host, when non-empty, overrides the Ollama endpoint for the "ollama"
// provider.
func NewEmbedder(ctx context.Context, provider ProviderType, model, host string) (Embedder, error) {
	if envProvider := os.Getenv("ECMEM_EMBEDDER"); envProvider != "" {
		provider = ParseProvider(envProvider)
	}

	var embedder Embedder
	var err error

	switch provider {
	case ProviderStatic:
		embedder = NewStaticEmbedder(DefaultDimensions)
	case ProviderOllama:
		embedder, err = newOllamaEmbedder(ctx, model, host)
	default:
		embedder, err = newOllamaEmbedder(ctx, model, host)
	}

	if err != nil {
		return nil, err
	}

	if !isCacheDisabled() {
		embedder = NewCachedEmbedderWithDefaults(embedder)
	}

	return embedder, nil
}

// isCacheDisabled checks if embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("ECMEM_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// newOllamaEmbedder builds an Ollama embedder from the requested model
// and host, applying environment overrides (ECMEM_OLLAMA_HOST,
// ECMEM_OLLAMA_MODEL, ECMEM_OLLAMA_TIMEOUT) on top. It surfaces a clear,
// actionable error instead of silently falling back to the static
// embedder, so a broken Ollama setup doesn't silently degrade search
// quality.
func newOllamaEmbedder(ctx context.Context, model, host string) (Embedder, error) {
	cfg := DefaultOllamaConfig()

	if model != "" && isOllamaModelName(model) {
		cfg.Model = model
	}
	if host != "" {
		cfg.Host = host
	}

	if h := os.Getenv("ECMEM_OLLAMA_HOST"); h != "" {
		cfg.Host = h
	}
	if m := os.Getenv("ECMEM_OLLAMA_MODEL"); m != "" {
		cfg.Model = m
	}
	if timeoutStr := os.Getenv("ECMEM_OLLAMA_TIMEOUT"); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			cfg.Timeout = timeout
		}
	}

	embedder, err := NewOllamaEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ollama unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Or use the static fallback: set provider \"static\" in .ecmem.yaml", err)
	}
	return embedder, nil
}

// ParseProvider converts a string to ProviderType, defaulting to Ollama
// for anything unrecognized.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "static":
		return ProviderStatic
	default:
		return ProviderOllama
	}
}

// String returns the string representation of ProviderType.
func (p ProviderType) String() string {
	return string(p)
}

// isOllamaModelName reports whether model looks like an Ollama tag
// (e.g. "nomic-embed-text:latest") rather than a bare GGUF filename.
func isOllamaModelName(model string) bool {
	if strings.Contains(model, ":") {
		return true
	}
	if strings.Contains(model, "-v") && (strings.Contains(model, ".") || strings.HasSuffix(model, "-v1") || strings.HasSuffix(model, "-v2")) {
		return false
	}
	if strings.HasSuffix(strings.ToLower(model), ".gguf") {
		return false
	}
	return false
}

// ValidProviders returns all valid provider names.
func ValidProviders() []string {
	return []string{string(ProviderOllama), string(ProviderStatic)}
}

// IsValidProvider checks if a provider name is valid.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}
