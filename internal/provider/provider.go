package provider

import (
	"context"
)

// MaxBatchSize is the most messages the gateway accepts in one bulk call.
const MaxBatchSize = 500

// Per-message error codes that mean the endpoint token will never work
// again. Endpoints that produce one are deleted.
const (
	CodeTokenNotRegistered = "messaging/registration-token-not-registered"
	CodeInvalidToken       = "messaging/invalid-registration-token"
)

// IsPermanentlyInvalid reports whether code marks a dead endpoint token.
func IsPermanentlyInvalid(code string) bool {
	return code == CodeTokenNotRegistered || code == CodeInvalidToken
}

// Message is one notification addressed to one endpoint token.
type Message struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Outcome is the gateway's verdict for the message at the same index.
type Outcome struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"errorCode,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ErrorText is what gets recorded as a task's last error for a failed
// outcome: the code when there is one, else the message.
func (o Outcome) ErrorText() string {
	if o.ErrorCode != "" {
		return o.ErrorCode
	}
	return o.Error
}

// Gateway abstracts the bulk push API. SendBatch returns exactly one
// outcome per message, in order, or a call-level error.
// Mocking this interface in tests gives full control over gateway behaviour
// without making real HTTP calls.
type Gateway interface {
	SendBatch(ctx context.Context, msgs []Message) ([]Outcome, error)
}
