package provider

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/rewind/internal/config"
)

// New builds the provider described by cfg. The provider reports cfg.Name.
func New(cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case config.TypeOpenAI, config.TypeGroq:
		p, err := NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
		}
		p.name = cfg.Name
		return p, nil
	case config.TypeGemini:
		p, err := NewGeminiProvider(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
		}
		p.name = cfg.Name
		return p, nil
	case config.TypeAnthropic:
		p, err := NewAnthropicProvider(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
		}
		if cfg.BaseURL != "" {
			p.SetBaseURL(cfg.BaseURL)
		}
		p.name = cfg.Name
		return p, nil
	case config.TypeOllama:
		p, err := NewOllamaProvider(cfg.Model, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
		}
		p.name = cfg.Name
		return p, nil
	case config.TypeCLI:
		fields := strings.Fields(cfg.Command)
		if len(fields) == 0 {
			return nil, fmt.Errorf("provider %s: command is required", cfg.Name)
		}
		p, err := NewCLIProvider(fields[0], fields[1:])
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
		}
		p.name = cfg.Name
		return p, nil
	case config.TypeStub:
		p := NewStubProvider()
		p.name = cfg.Name
		return p, nil
	}
	return nil, fmt.Errorf("provider %s: unknown type %q", cfg.Name, cfg.Type)
}
