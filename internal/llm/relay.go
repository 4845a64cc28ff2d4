package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/roadsight/billboard-proxy/internal/config"
)

const maxResponseBytes = 32 << 20

// HTTPRelay posts chat-completion bodies to OpenAI or Azure OpenAI without
// retries or re-encoding, so the caller sees the upstream bytes unchanged.
type HTTPRelay struct {
	cfg    config.OpenAIConfig
	client *http.Client
}

func NewHTTPRelay(cfg config.OpenAIConfig, client *http.Client) *HTTPRelay {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPRelay{cfg: cfg, client: client}
}

func (h *HTTPRelay) ChatCompletions(ctx context.Context, model string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.chatURL(model), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	key := strings.TrimSpace(h.cfg.APIKey)
	switch h.cfg.Provider {
	case "azure":
		req.Header.Set("api-key", key)
	default:
		req.Header.Set("Authorization", "Bearer "+key)
	}

	slog.Debug("Calling upstream chat completions", "url", req.URL.Redacted(), "model", model, "bytes", len(body))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: raw}, nil
}

func (h *HTTPRelay) chatURL(model string) string {
	base := strings.TrimRight(strings.TrimSpace(h.cfg.APIEndpoint), "/")
	if h.cfg.Provider == "azure" {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			base, url.PathEscape(model), url.QueryEscape(h.cfg.APIVersion))
	}
	return base + "/chat/completions"
}
