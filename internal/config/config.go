package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the service configuration, loaded from a JSON file.
type Config struct {
	Port        int    `json:"port"`
	DataDir     string `json:"data_dir,omitempty"`
	SourcesDir  string `json:"sources_dir,omitempty"`
	SecretsFile string `json:"secrets_file,omitempty"`

	// ReindexSchedule is a cron expression for background source scans.
	// Empty disables scheduled reindexing.
	ReindexSchedule string `json:"reindex_schedule,omitempty"`

	Storage   StorageConfig   `json:"storage"`
	Embedding EmbeddingConfig `json:"embedding"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Debug     DebugConfig     `json:"debug,omitempty"`
}

// StorageConfig selects the snapshot backend.
type StorageConfig struct {
	// Backend is "file" (documents.json + embeddings.bin under
	// data_dir) or "sqlite".
	Backend string `json:"backend"`

	// Path to the SQLite database file. Derived from data_dir if empty.
	Path string `json:"path,omitempty"`
}

// EmbeddingConfig contains embedding provider settings.
type EmbeddingConfig struct {
	APIKey         string `json:"api_key,omitempty"` // Supports ${ENV_VAR} expansion
	Model          string `json:"model,omitempty"`   // Default: "text-embedding-3-small"
	Dimensions     int    `json:"dimensions,omitempty"`
	MaxChars       int    `json:"max_chars,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// RetrievalConfig contains query-time defaults.
type RetrievalConfig struct {
	TopK             int     `json:"top_k,omitempty"`
	MinSimilarity    float64 `json:"min_similarity,omitempty"`
	MaxContextTokens int     `json:"max_context_tokens,omitempty"`
}

// DebugConfig contains debugging and logging settings.
type DebugConfig struct {
	VerboseLogging bool `json:"verbose_logging,omitempty"`
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Port:            18790,
		DataDir:         "./data",
		SourcesDir:      "./sources",
		ReindexSchedule: "0 */6 * * *",
		Storage: StorageConfig{
			Backend: "file",
		},
		Embedding: EmbeddingConfig{
			APIKey:         "${OPENAI_API_KEY}",
			Model:          "text-embedding-3-small",
			Dimensions:     1536,
			MaxChars:       8000,
			TimeoutSeconds: 30,
		},
		Retrieval: RetrievalConfig{
			TopK:             3,
			MinSimilarity:    0.7,
			MaxContextTokens: 2000,
		},
		Debug: DebugConfig{
			VerboseLogging: false,
		},
	}
}

// Load loads configuration from a file, writing a default config there
// first when the file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		fmt.Printf("Created default configuration at %s\n", path)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand tilde in path fields before anything else so that
	// secrets_file can reference ~/... paths.
	cfg.expandTilde()

	// Load secrets file (KEY=VALUE) into the environment before
	// expanding ${ENV_VAR} placeholders in the config.
	if err := cfg.loadSecretsFile(); err != nil {
		return nil, fmt.Errorf("failed to load secrets file: %w", err)
	}

	cfg.expandEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Save saves the configuration to a file.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// StoragePath returns the SQLite database path, derived from DataDir
// when not set explicitly.
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return filepath.Join(c.DataDir, "camaron.db")
}

// expandEnvVars expands ${ENV_VAR} placeholders in configuration values.
func (c *Config) expandEnvVars() {
	c.DataDir = os.ExpandEnv(c.DataDir)
	c.SourcesDir = os.ExpandEnv(c.SourcesDir)
	c.SecretsFile = os.ExpandEnv(c.SecretsFile)
	c.Storage.Path = os.ExpandEnv(c.Storage.Path)
	c.Embedding.APIKey = os.ExpandEnv(c.Embedding.APIKey)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	switch c.Storage.Backend {
	case "", "file", "sqlite":
	default:
		return fmt.Errorf("unknown storage backend %q (expected \"file\" or \"sqlite\")", c.Storage.Backend)
	}

	if c.Retrieval.TopK < 0 {
		return fmt.Errorf("retrieval top_k must not be negative")
	}
	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("retrieval min_similarity must be between 0 and 1")
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding dimensions must not be negative")
	}

	return nil
}

// expandTilde replaces a leading "~/" with the user's home directory in
// path-valued config fields. Called before env-var expansion so that
// both "~/foo" and "${SOME_PATH}" work.
func (c *Config) expandTilde() {
	home, err := os.UserHomeDir()
	if err != nil {
		return // can't expand, leave as-is
	}
	expand := func(p string) string {
		if p == "~" {
			return home
		}
		if strings.HasPrefix(p, "~/") {
			return filepath.Join(home, p[2:])
		}
		return p
	}

	c.DataDir = expand(c.DataDir)
	c.SourcesDir = expand(c.SourcesDir)
	c.SecretsFile = expand(c.SecretsFile)
	c.Storage.Path = expand(c.Storage.Path)
}

// loadSecretsFile reads a KEY=VALUE file into the process environment.
// Blank lines and lines starting with '#' are ignored.
// Existing environment variables are NOT overridden (shell/systemd wins).
// If SecretsFile is empty or the file doesn't exist, this is a no-op.
func (c *Config) loadSecretsFile() error {
	if c.SecretsFile == "" {
		return nil
	}

	f, err := os.Open(c.SecretsFile)
	if os.IsNotExist(err) {
		return nil // missing file is fine
	}
	if err != nil {
		return fmt.Errorf("cannot open secrets file %s: %w", c.SecretsFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Strip optional surrounding quotes from value
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		// Don't override existing env vars
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}
