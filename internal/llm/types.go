package llm

import "context"

// Relay sends an already-encoded chat-completion body upstream and returns
// the raw reply, whatever its status.
type Relay interface {
	ChatCompletions(ctx context.Context, model string, body []byte) (*Response, error)
}

// Prober checks that the configured credential can reach a model.
type Prober interface {
	Probe(ctx context.Context, model string) error
}

type Response struct {
	StatusCode int
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
