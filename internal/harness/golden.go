package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/oidcstore/internal/payload"
)

// TraceSnapshot captures the complete trace for a scenario execution.
type TraceSnapshot struct {
	Scenario string       `json:"scenario"`
	Trace    []TraceEvent `json:"trace"`
}

// toCanonicalMap converts the snapshot to generic values so optional fields
// are omitted the same way on every backend.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq": ev.Seq,
			"at":  ev.At,
			"op":  ev.Op,
		}
		if ev.Model != "" {
			m["model"] = ev.Model
		}
		if ev.Key != "" {
			m["key"] = ev.Key
		}
		if ev.Payload != nil {
			m["payload"] = ev.Payload
		}
		if ev.ExpiresIn != 0 {
			m["expires_in"] = ev.ExpiresIn
		}
		if ev.Seconds != 0 {
			m["seconds"] = ev.Seconds
		}
		if ev.Found != nil {
			m["found"] = *ev.Found
		}
		if ev.Result != nil {
			m["result"] = ev.Result
		}
		if ev.Error != "" {
			m["error"] = ev.Error
		}
		traceList[i] = m
	}
	return map[string]any{
		"scenario": s.Scenario,
		"trace":    traceList,
	}
}

// Snapshot renders a result's trace as canonical JSON.
func Snapshot(name string, result *Result) ([]byte, error) {
	snap := TraceSnapshot{Scenario: name, Trace: result.Trace}
	return payload.MarshalCanonical(snap.toCanonicalMap())
}

// RunWithGolden executes a scenario on SQLite and compares the trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()
	return New(nil, nil).RunWithGolden(t, scenario)
}

// RunWithGolden is the package-level RunWithGolden on h's environment.
// Every backend must produce the same golden trace.
func (h *Harness) RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := h.Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
