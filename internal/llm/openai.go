package llm

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"github.com/roadsight/billboard-proxy/internal/config"
)

// OpenAI wraps the SDK client used for credential checks.
type OpenAI struct {
	client *openai.Client
	cfg    config.OpenAIConfig
}

func NewOpenAI(cfg config.OpenAIConfig) *OpenAI {
	var client *openai.Client

	switch cfg.Provider {
	case "azure":
		client = openai.NewClient(
			azure.WithEndpoint(cfg.APIEndpoint, cfg.APIVersion),
			azure.WithAPIKey(cfg.APIKey),
			option.WithMaxRetries(0),
		)
	default: // "openai"
		client = openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(withTrailingSlash(cfg.APIEndpoint)),
			option.WithMaxRetries(0),
		)
	}

	return &OpenAI{
		client: client,
		cfg:    cfg,
	}
}

// Probe retrieves model with the configured credential. A nil error means
// the key is accepted and the model is visible to it.
func (o *OpenAI) Probe(ctx context.Context, model string) error {
	_, err := o.client.Models.Get(ctx, model)
	return err
}

func withTrailingSlash(u string) string {
	u = strings.TrimSpace(u)
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}
