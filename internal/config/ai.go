package config

import "os"

// Providers understood by llm.New.
const (
	ProviderAzure  = "azure"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// RateLimit bounds outbound generation calls. Zero RPS disables limiting.
type RateLimit struct {
	RPS   float64 `yaml:"rps" json:"rps"`
	Burst int     `yaml:"burst" json:"burst"`
}

// AIConfig holds all text-generation configuration
type AIConfig struct {
	Provider   string    `yaml:"provider" json:"provider"`
	APIKey     string    `yaml:"api_key" json:"-"` // Never serialize
	BaseURL    string    `yaml:"base_url" json:"baseUrl"`
	APIVersion string    `yaml:"api_version" json:"apiVersion"`
	Model      string    `yaml:"model" json:"model"`
	TimeoutMS  int       `yaml:"timeout_ms" json:"timeoutMs"`
	RateLimit  RateLimit `yaml:"rate_limit" json:"rateLimit"`
}

// DefaultAIConfig returns the default AI configuration
func DefaultAIConfig() AIConfig {
	return AIConfig{
		Provider:   ProviderAzure,
		APIVersion: "2024-08-01-preview",
		Model:      "gpt-4o-mini",
		TimeoutMS:  60000,
		RateLimit:  RateLimit{RPS: 5, Burst: 10},
	}
}

// applyEnv overlays the provider-specific environment variables.
func (c *AIConfig) applyEnv() {
	c.Provider = getEnvOrDefault("AI_PROVIDER", c.Provider)
	switch c.Provider {
	case ProviderAzure:
		c.APIKey = getEnvOrDefault("AZURE_OPENAI_API_KEY", c.APIKey)
		c.BaseURL = getEnvOrDefault("AZURE_OPENAI_ENDPOINT", c.BaseURL)
		c.APIVersion = getEnvOrDefault("AZURE_OPENAI_API_VERSION", c.APIVersion)
	case ProviderOpenAI:
		c.APIKey = getEnvOrDefault("OPENAI_API_KEY", c.APIKey)
		c.BaseURL = getEnvOrDefault("OPENAI_BASE_URL", c.BaseURL)
	case ProviderGemini:
		c.APIKey = getEnvOrDefault("GEMINI_API_KEY", c.APIKey)
	case ProviderOllama:
		c.BaseURL = getEnvOrDefault("OLLAMA_HOST", c.BaseURL)
	}
	c.Model = getEnvOrDefault("AI_MODEL", c.Model)
	c.TimeoutMS = getEnvIntOrDefault("AI_TIMEOUT_MS", c.TimeoutMS)
}

// IsEnabled returns true if the configured provider can be called
func (c *AIConfig) IsEnabled() bool {
	if c.Provider == ProviderOllama {
		return true
	}
	return c.APIKey != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
