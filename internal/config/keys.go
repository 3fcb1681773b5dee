package config

import (
	"fmt"
	"os"
	"strings"
)

// SecretSource looks up a stored secret. A missing secret is ("", nil).
type SecretSource interface {
	GetSecret(key string) (string, error)
}

// EnvKey returns the environment variable consulted for a provider's key,
// e.g. GEMINI_API_KEY.
func EnvKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String() + "_API_KEY"
}

// SecretKey returns the credential store key for a provider, e.g. gemini.api_key.
func SecretKey(name string) string {
	return strings.ToLower(name) + ".api_key"
}

// ResolveKeys fills missing API keys from the environment and then from src.
// src may be nil.
func (c *Config) ResolveKeys(src SecretSource) error {
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.APIKey != "" || !p.NeedsKey() {
			continue
		}
		if v := os.Getenv(EnvKey(p.Name)); v != "" {
			p.APIKey = v
			continue
		}
		if src == nil {
			continue
		}
		v, err := src.GetSecret(SecretKey(p.Name))
		if err != nil {
			return fmt.Errorf("failed to read stored key for %s: %w", p.Name, err)
		}
		p.APIKey = v
	}
	return nil
}

// UsableProviders returns the providers that have what they need to run, in
// configured order, plus a note for each one skipped. It returns
// ErrNoProviders when nothing is left.
func (c *Config) UsableProviders() ([]ProviderConfig, []string, error) {
	var usable []ProviderConfig
	var skipped []string
	for _, p := range c.Providers {
		if p.Type == TypeCLI && strings.TrimSpace(p.Command) == "" {
			skipped = append(skipped, fmt.Sprintf("%s: no LLM command found", p.Name))
			continue
		}
		if p.NeedsKey() && p.APIKey == "" {
			skipped = append(skipped, fmt.Sprintf("%s: no API key (set %s or run `rewind config set %s <key>`)", p.Name, EnvKey(p.Name), SecretKey(p.Name)))
			continue
		}
		usable = append(usable, p)
	}
	if len(usable) == 0 {
		return nil, skipped, ErrNoProviders
	}
	return usable, skipped, nil
}
