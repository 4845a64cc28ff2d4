package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roadsight/billboard-proxy/apimodels"
	"github.com/roadsight/billboard-proxy/internal/auth"
	"github.com/roadsight/billboard-proxy/internal/config"
	"github.com/roadsight/billboard-proxy/internal/llm"
)

var (
	ErrMissingAPIKey   = errors.New("openai api key not configured")
	ErrInvalidMessages = errors.New("missing or invalid messages array")
	ErrInvalidField    = errors.New("invalid request field")
)

// UpstreamError is a non-2xx reply from the chat-completions endpoint.
type UpstreamError struct {
	StatusCode int

	// Message is error.message from the upstream body, or "Unknown error"
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("OpenAI API error: %d", e.StatusCode)
}

// Observer receives the latency of every upstream call.
type Observer interface {
	ObserveUpstream(action string, status int, dur time.Duration)
}

type Result struct {
	// Body is the upstream JSON, unmodified
	Body []byte

	Action   string
	Model    string
	Duration time.Duration
}

type Analyzer struct {
	cfg      *config.Config
	relay    llm.Relay
	observer Observer
}

func New(cfg *config.Config, relay llm.Relay, observer Observer) *Analyzer {
	return &Analyzer{
		cfg:      cfg,
		relay:    relay,
		observer: observer,
	}
}

// Configured reports whether an upstream credential is present.
func (a *Analyzer) Configured() bool {
	return a.cfg.OpenAI.APIKey != ""
}

// Decode parses a request body. Syntax errors are returned unchanged. A
// well-formed body that is not an object, or whose messages field is missing
// or not an array, yields ErrInvalidMessages. A known field of the wrong type
// yields ErrInvalidField.
func Decode(body []byte) (*apimodels.AnalysisRequest, error) {
	if !json.Valid(body) {
		var v any
		return nil, json.Unmarshal(body, &v)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, ErrInvalidMessages
	}
	msgs := bytes.TrimSpace(fields["messages"])
	if len(msgs) == 0 || msgs[0] != '[' {
		return nil, ErrInvalidMessages
	}

	var req apimodels.AnalysisRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidField, err)
	}
	// struct decoding folds case, so keep the exact key checked above
	req.Messages = msgs
	return &req, nil
}

// Build applies the action policy to req. Explicit request values win over
// the policy; response_format is only set when the request carries one.
func (a *Analyzer) Build(req *apimodels.AnalysisRequest) apimodels.ChatCompletionRequest {
	p := a.cfg.Policy(req.Action)

	out := apimodels.ChatCompletionRequest{
		Model:          p.Model,
		Messages:       req.Messages,
		MaxTokens:      p.MaxTokens,
		Temperature:    p.Temperature,
		ResponseFormat: req.ResponseFormat,
	}
	if req.Model != "" {
		out.Model = req.Model
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	return out
}

// Forward sends req upstream once and returns the upstream body on success.
func (a *Analyzer) Forward(ctx context.Context, req *apimodels.AnalysisRequest) (*Result, error) {
	if !a.Configured() {
		return nil, ErrMissingAPIKey
	}

	action := a.cfg.ResolveAction(req.Action)
	up := a.Build(req)

	body, err := json.Marshal(up)
	if err != nil {
		return nil, fmt.Errorf("encode upstream request: %w", err)
	}

	slog.Info("Processing analysis request",
		"action", action,
		"model", up.Model,
		"max_tokens", up.MaxTokens,
		"temperature", up.Temperature,
		"response_format", up.ResponseFormat != nil,
		"bytes", len(body),
		"user", caller(ctx),
	)

	start := time.Now()
	resp, err := a.relay.ChatCompletions(ctx, up.Model, body)
	dur := time.Since(start)
	if err != nil {
		a.observe(action, 0, dur)
		slog.Error("Upstream request failed", "action", action, "model", up.Model, "error", err)
		return nil, err
	}
	a.observe(action, resp.StatusCode, dur)

	if !resp.OK() {
		upErr := &UpstreamError{
			StatusCode: resp.StatusCode,
			Message:    upstreamMessage(resp.Body),
		}
		slog.Error("OpenAI API error", "status", resp.StatusCode, "details", upErr.Message, "model", up.Model)
		return nil, upErr
	}

	if !json.Valid(resp.Body) {
		slog.Error("Upstream returned invalid JSON", "status", resp.StatusCode, "model", up.Model)
		return nil, errors.New("invalid JSON in upstream response")
	}

	slog.Debug("Analysis request completed successfully", "action", action, "model", up.Model, "duration", dur)

	return &Result{
		Body:     resp.Body,
		Action:   action,
		Model:    up.Model,
		Duration: dur,
	}, nil
}

func (a *Analyzer) observe(action string, status int, dur time.Duration) {
	if a.observer != nil {
		a.observer.ObserveUpstream(action, status, dur)
	}
}

// caller is the session subject behind ctx, empty when auth is off.
func caller(ctx context.Context) string {
	if c, ok := auth.ClaimsFrom(ctx); ok {
		return c.Subject
	}
	return ""
}

func upstreamMessage(body []byte) string {
	var env apimodels.UpstreamErrorBody
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil || env.Error.Message == "" {
		return "Unknown error"
	}
	return env.Error.Message
}
