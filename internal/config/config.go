package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoProviders is returned when no configured provider can be used.
var ErrNoProviders = errors.New("no usable analysis provider configured")

// Provider types understood by the provider factory.
const (
	TypeOpenAI    = "openai"
	TypeGroq      = "groq"
	TypeGemini    = "gemini"
	TypeOllama    = "ollama"
	TypeAnthropic = "anthropic"
	TypeCLI       = "cli"
	TypeStub      = "stub"
)

// Config is the complete runtime configuration for rewind.
type Config struct {
	Capture   CaptureConfig    `json:"capture" yaml:"capture"`
	OCR       OCRConfig        `json:"ocr" yaml:"ocr"`
	Buffer    BufferConfig     `json:"buffer" yaml:"buffer"`
	Analysis  AnalysisConfig   `json:"analysis" yaml:"analysis"`
	Providers []ProviderConfig `json:"providers" yaml:"providers"`
	Query     QueryConfig      `json:"query" yaml:"query"`
	Log       LogConfig        `json:"log" yaml:"log"`
}

type CaptureConfig struct {
	Hz           float64  `json:"hz" yaml:"hz"`
	MaxDimension int      `json:"max_dimension" yaml:"max_dimension"`
	Command      []string `json:"command" yaml:"command"`
}

type OCRConfig struct {
	Engine        string   `json:"engine" yaml:"engine"`
	Languages     []string `json:"languages" yaml:"languages"`
	MinConfidence float64  `json:"min_confidence" yaml:"min_confidence"`
	PluginPath    string   `json:"plugin_path" yaml:"plugin_path"`
}

type BufferConfig struct {
	RetentionSeconds  float64 `json:"retention_seconds" yaml:"retention_seconds"`
	EvictEverySeconds float64 `json:"evict_every_seconds" yaml:"evict_every_seconds"`
}

type AnalysisConfig struct {
	IntervalSeconds      float64  `json:"interval_seconds" yaml:"interval_seconds"`
	KeyInfoExpirySeconds float64  `json:"key_info_expiry_seconds" yaml:"key_info_expiry_seconds"`
	KeyInfoMaxItems      int      `json:"key_info_max_items" yaml:"key_info_max_items"`
	StaleAfterSeconds    float64  `json:"stale_after_seconds" yaml:"stale_after_seconds"`
	IgnoreApplications   []string `json:"ignore_applications" yaml:"ignore_applications"`
	KeyInfoKinds         []string `json:"key_info_kinds" yaml:"key_info_kinds"`
}

// ProviderConfig describes one LLM backend in the fallback order.
type ProviderConfig struct {
	Name              string  `json:"name" yaml:"name"`
	Type              string  `json:"type" yaml:"type"`
	Model             string  `json:"model" yaml:"model"`
	BaseURL           string  `json:"base_url" yaml:"base_url"`
	APIKey            string  `json:"api_key" yaml:"api_key"`
	Command           string  `json:"command" yaml:"command"`
	MaxInputChars     int     `json:"max_input_chars" yaml:"max_input_chars"`
	RequestsPerMinute float64 `json:"requests_per_minute" yaml:"requests_per_minute"`
	TimeoutSeconds    float64 `json:"timeout_seconds" yaml:"timeout_seconds"`
}

type QueryConfig struct {
	Listen string `json:"listen" yaml:"listen"`
}

type LogConfig struct {
	Verbose bool `json:"verbose" yaml:"verbose"`
	JSON    bool `json:"json" yaml:"json"`
}

// ValidationResult represents the outcome of a validation pass.
type ValidationResult struct {
	Valid    bool
	Warnings []string
	Errors   []string
}

// Err folds the validation errors into a single error, or nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(r.Errors, "; "))
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{Hz: 3, MaxDimension: 1920},
		OCR: OCRConfig{
			Engine:        "tesseract",
			Languages:     []string{"eng"},
			MinConfidence: 0.3,
		},
		Buffer: BufferConfig{RetentionSeconds: 60, EvictEverySeconds: 5},
		Analysis: AnalysisConfig{
			IntervalSeconds:      10,
			KeyInfoExpirySeconds: 300,
			KeyInfoMaxItems:      50,
			IgnoreApplications:   []string{"*1Password*", "*Bitwarden*", "*KeePass*"},
			KeyInfoKinds:         []string{"otp", "email", "phone", "name", "url", "price", "date", "order", "other"},
		},
		Providers: []ProviderConfig{
			{Name: "gemini", Type: TypeGemini},
			{Name: "groq", Type: TypeGroq},
			{Name: "openai", Type: TypeOpenAI},
		},
		Query: QueryConfig{Listen: "127.0.0.1:7717"},
	}
}

// DefaultDir returns ~/.rewind.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".rewind"), nil
}

// Load reads a configuration file (JSON or YAML) over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	// A file that lists providers replaces the default chain instead of
	// merging into it element by element.
	cfg.Providers = nil

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s (use .json or .yaml)", ext)
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = Default().Providers
	}
	cfg.Normalize()
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		cfg.Normalize()
		return cfg, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.Normalize()
		return cfg, nil
	}
	return Load(path)
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	def := Default()
	if c.Capture.MaxDimension == 0 {
		c.Capture.MaxDimension = def.Capture.MaxDimension
	}
	if c.OCR.Engine == "" {
		c.OCR.Engine = def.OCR.Engine
	}
	if len(c.OCR.Languages) == 0 {
		c.OCR.Languages = def.OCR.Languages
	}
	if c.Buffer.EvictEverySeconds == 0 {
		c.Buffer.EvictEverySeconds = def.Buffer.EvictEverySeconds
	}
	if c.Analysis.KeyInfoMaxItems == 0 {
		c.Analysis.KeyInfoMaxItems = def.Analysis.KeyInfoMaxItems
	}
	if len(c.Analysis.KeyInfoKinds) == 0 {
		c.Analysis.KeyInfoKinds = def.Analysis.KeyInfoKinds
	}
	if c.Query.Listen == "" {
		c.Query.Listen = def.Query.Listen
	}
	for i := range c.Providers {
		c.Providers[i].normalize()
	}
}

func (p *ProviderConfig) normalize() {
	p.Type = strings.ToLower(strings.TrimSpace(p.Type))
	if p.Type == "" {
		p.Type = strings.ToLower(p.Name)
	}
	if p.Name == "" {
		p.Name = p.Type
	}
	if p.Model == "" {
		p.Model = defaultModels[p.Type]
	}
	if p.BaseURL == "" && p.Type == TypeGroq {
		p.BaseURL = "https://api.groq.com/openai/v1"
	}
	if p.MaxInputChars == 0 {
		p.MaxInputChars = 4000
	}
	if p.TimeoutSeconds == 0 {
		p.TimeoutSeconds = 20
	}
}

var defaultModels = map[string]string{
	TypeOpenAI:    "gpt-4.1-mini",
	TypeGroq:      "llama-3.3-70b-versatile",
	TypeGemini:    "gemini-2.0-flash",
	TypeOllama:    "llama3.2",
	TypeAnthropic: "claude-3-5-haiku-latest",
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() ValidationResult {
	res := ValidationResult{
		Valid:    true,
		Warnings: []string{},
		Errors:   []string{},
	}
	fail := func(format string, args ...any) {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
	}

	if c.Capture.Hz <= 0 || c.Capture.Hz > 30 {
		fail("capture.hz must be in (0, 30], got %v", c.Capture.Hz)
	}
	if c.Capture.MaxDimension < 0 {
		fail("capture.max_dimension must not be negative")
	}
	if c.OCR.MinConfidence < 0 || c.OCR.MinConfidence > 1 {
		fail("ocr.min_confidence must be in [0, 1], got %v", c.OCR.MinConfidence)
	}
	switch c.OCR.Engine {
	case "tesseract":
	case "plugin":
		if c.OCR.PluginPath == "" {
			fail("ocr.plugin_path is required when ocr.engine is plugin")
		}
	default:
		fail("unknown ocr.engine %q", c.OCR.Engine)
	}
	if c.Buffer.RetentionSeconds <= 0 {
		fail("buffer.retention_seconds must be positive")
	}
	if c.Buffer.EvictEverySeconds <= 0 {
		fail("buffer.evict_every_seconds must be positive")
	}
	if c.Analysis.IntervalSeconds < 1 || c.Analysis.IntervalSeconds > 60 {
		fail("analysis.interval_seconds must be in [1, 60], got %v", c.Analysis.IntervalSeconds)
	}
	if c.Analysis.KeyInfoExpirySeconds <= 0 {
		fail("analysis.key_info_expiry_seconds must be positive")
	}
	if c.Analysis.StaleAfterSeconds < 0 {
		fail("analysis.stale_after_seconds must not be negative")
	}

	if len(c.Providers) == 0 {
		fail("at least one provider is required")
	}
	seen := make(map[string]bool)
	for i, p := range c.Providers {
		if _, ok := defaultModels[p.Type]; !ok && p.Type != TypeCLI && p.Type != TypeStub {
			fail("providers[%d]: unknown type %q", i, p.Type)
		}
		if seen[p.Name] {
			fail("providers[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		if p.Type == TypeCLI && p.Command == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("providers[%d]: no command; a local LLM CLI is looked up on PATH", i))
		}
		if p.MaxInputChars < 100 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("providers[%d]: max_input_chars %d leaves little room for context", i, p.MaxInputChars))
		}
		if p.RequestsPerMinute < 0 {
			fail("providers[%d]: requests_per_minute must not be negative", i)
		}
	}

	if c.Buffer.RetentionSeconds > 0 && c.Analysis.IntervalSeconds > c.Buffer.RetentionSeconds {
		res.Warnings = append(res.Warnings, "analysis interval exceeds buffer retention; some text is never analyzed")
	}

	return res
}

// CaptureInterval is the period between screen samples.
func (c *Config) CaptureInterval() time.Duration {
	return seconds(1 / c.Capture.Hz)
}

func (c *Config) Retention() time.Duration { return seconds(c.Buffer.RetentionSeconds) }

func (c *Config) EvictEvery() time.Duration { return seconds(c.Buffer.EvictEverySeconds) }

func (c *Config) AnalysisInterval() time.Duration { return seconds(c.Analysis.IntervalSeconds) }

func (c *Config) KeyInfoExpiry() time.Duration { return seconds(c.Analysis.KeyInfoExpirySeconds) }

// StaleAfter defaults to twice the analysis interval.
func (c *Config) StaleAfter() time.Duration {
	if c.Analysis.StaleAfterSeconds > 0 {
		return seconds(c.Analysis.StaleAfterSeconds)
	}
	return 2 * c.AnalysisInterval()
}

// Timeout is the per-call deadline for this provider.
func (p ProviderConfig) Timeout() time.Duration { return seconds(p.TimeoutSeconds) }

// NeedsKey reports whether the provider type requires an API key.
func (p ProviderConfig) NeedsKey() bool {
	switch p.Type {
	case TypeOllama, TypeCLI, TypeStub:
		return false
	}
	return true
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
