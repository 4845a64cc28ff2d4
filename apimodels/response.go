package apimodels

import "time"

// ErrorResponse is the normalized error body returned by the proxy.
type ErrorResponse struct {
	// Short, stable description of the failure
	Error string `json:"error"`

	// Underlying cause, when one is known
	Details string `json:"details,omitempty"`
}

// UpstreamErrorBody is the subset of the OpenAI error envelope the proxy reads.
type UpstreamErrorBody struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type,omitempty"`
		Code    any    `json:"code,omitempty"`
	} `json:"error"`
}

type TokenResponse struct {
	// Signed session token
	Token string `json:"token"`

	// Expiry of the token
	ExpiresAt time.Time `json:"expires_at"`

	// Decoded claims so the client can cache them without parsing the token
	Claims TokenClaims `json:"claims"`
}

type TokenClaims struct {
	Subject   string `json:"sub"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Issuer    string `json:"iss"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
}

type StatsResponse struct {
	Requests struct {
		Total     int64 `json:"total"`
		Succeeded int64 `json:"succeeded"`
		Failed    int64 `json:"failed"`
	} `json:"requests"`

	// Upstream latency over the most recent window, in milliseconds
	Latency struct {
		Samples int     `json:"samples"`
		Avg     float64 `json:"avg_ms"`
		P50     float64 `json:"p50_ms"`
		P95     float64 `json:"p95_ms"`
		P99     float64 `json:"p99_ms"`
	} `json:"latency"`
}
