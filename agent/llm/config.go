package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
	openrouterx "github.com/neohoods/portal-assistant/pkg/openrouter"
)

type Config struct {
	BaseURL  string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey   string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model    string        `envconfig:"MODEL" split_words:"true" required:"true"`
	Timeout  time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL  string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName string        `envconfig:"SITE_NAME" split_words:"true"`

	ChatModel               string  `envconfig:"CHAT_MODEL" split_words:"true"`
	ChatTemperature         float32 `envconfig:"CHAT_TEMPERATURE" split_words:"true" default:"0.7"`
	ChatMaxTokens           int     `envconfig:"CHAT_MAX_TOKENS" split_words:"true" default:"1000"`
	ClassificationModel     string  `envconfig:"CLASSIFICATION_MODEL" split_words:"true"`
	ClassificationTemp      float32 `envconfig:"CLASSIFICATION_TEMPERATURE" split_words:"true" default:"0.1"`
	ClassificationMaxTokens int     `envconfig:"CLASSIFICATION_MAX_TOKENS" split_words:"true" default:"64"`
	StructuredModel         string  `envconfig:"STRUCTURED_MODEL" split_words:"true"`
	StructuredTemperature   float32 `envconfig:"STRUCTURED_TEMPERATURE" split_words:"true" default:"0.2"`
	StructuredMaxTokens     int     `envconfig:"STRUCTURED_MAX_TOKENS" split_words:"true" default:"1000"`
}

// Sampling is the fixed sampling profile of one call purpose.
type Sampling struct {
	Temperature float32
	MaxTokens   int
}

// DefaultSampling returns the built-in profile of purpose, used when no
// Config is available (tests, the chat REPL with defaults).
func DefaultSampling(purpose contractx.Purpose) Sampling {
	switch purpose {
	case contractx.PurposeClassification:
		return Sampling{Temperature: 0.1, MaxTokens: 64}
	case contractx.PurposeStructured:
		return Sampling{Temperature: 0.2, MaxTokens: 1000}
	default:
		return Sampling{Temperature: 0.7, MaxTokens: 1000}
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	for purpose, s := range map[contractx.Purpose]Sampling{
		contractx.PurposeChat:           c.SamplingFor(contractx.PurposeChat),
		contractx.PurposeClassification: c.SamplingFor(contractx.PurposeClassification),
		contractx.PurposeStructured:     c.SamplingFor(contractx.PurposeStructured),
	} {
		if s.Temperature < 0 || s.Temperature > 2 {
			return fmt.Errorf("%w: temperature=%v out of range for purpose=%s", contractx.ErrValidation, s.Temperature, purpose)
		}
		if s.MaxTokens <= 0 {
			return fmt.Errorf("%w: max tokens must be > 0 for purpose=%s", contractx.ErrValidation, purpose)
		}
	}
	return nil
}

func (c Config) SamplingFor(purpose contractx.Purpose) Sampling {
	switch purpose {
	case contractx.PurposeClassification:
		return Sampling{Temperature: c.ClassificationTemp, MaxTokens: c.ClassificationMaxTokens}
	case contractx.PurposeStructured:
		return Sampling{Temperature: c.StructuredTemperature, MaxTokens: c.StructuredMaxTokens}
	default:
		return Sampling{Temperature: c.ChatTemperature, MaxTokens: c.ChatMaxTokens}
	}
}

func (c Config) ModelFor(purpose contractx.Purpose) string {
	modelName := strings.TrimSpace(c.Model)
	var override string
	switch purpose {
	case contractx.PurposeClassification:
		override = c.ClassificationModel
	case contractx.PurposeStructured:
		override = c.StructuredModel
	default:
		override = c.ChatModel
	}
	if v := strings.TrimSpace(override); v != "" {
		modelName = v
	}
	return modelName
}

func (c Config) OpenRouterFor(purpose contractx.Purpose) openrouterx.Config {
	sampling := c.SamplingFor(purpose)
	maxCompletionToken := sampling.MaxTokens
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              c.ModelFor(purpose),
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        sampling.Temperature,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
