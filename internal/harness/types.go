package harness

import "github.com/roach88/oidcstore/internal/payload"

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq int64 `json:"seq"`

	// At is the clock, in unix seconds, after the step ran.
	At int64 `json:"at"`

	Op string `json:"op"`

	// Model is the normalized kind name.
	Model string `json:"model,omitempty"`

	// Key is the id, user code, uid or grant id the step addressed.
	Key string `json:"key,omitempty"`

	// Payload and ExpiresIn are the upsert inputs.
	Payload   payload.Payload `json:"payload,omitempty"`
	ExpiresIn int             `json:"expires_in,omitempty"`

	// Seconds is the advance distance.
	Seconds int `json:"seconds,omitempty"`

	// Found and Result are set for lookups.
	Found  *bool           `json:"found,omitempty"`
	Result payload.Payload `json:"result,omitempty"`

	// Error is the error class ("conflict" or "error"), if the step failed.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Trace contains every executed step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Ops returns the op of every trace event, in order.
func (r *Result) Ops() []string {
	ops := make([]string, len(r.Trace))
	for i, ev := range r.Trace {
		ops[i] = ev.Op
	}
	return ops
}
