package harness

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/oidcstore/internal/adapter"
	"github.com/roach88/oidcstore/internal/model"
	"github.com/roach88/oidcstore/internal/payload"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", ev.Seq, describeEvent(ev))
		}
	}
	return buf.String()
}

func describeEvent(ev TraceEvent) string {
	if ev.Op == OpAdvance {
		return fmt.Sprintf("advance %ds", ev.Seconds)
	}
	s := fmt.Sprintf("%s %s %q", ev.Op, ev.Model, ev.Key)
	if ev.Found != nil {
		s += fmt.Sprintf(" found=%t", *ev.Found)
	}
	if ev.Error != "" {
		s += " error=" + ev.Error
	}
	return s
}

// evaluateAssertion dispatches on assertion type. final_state reads through
// the same adapters the scenario used.
func evaluateAssertion(ctx context.Context, f *adapter.Factory, trace []TraceEvent, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	case AssertFinalState:
		return assertFinalState(ctx, f, trace, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// eventMatches reports whether ev is op on model (and key, when given).
// Model names are normalized, so "DeviceCode" matches "device_code".
func eventMatches(ev TraceEvent, op, modelName, key string) bool {
	if ev.Op != op {
		return false
	}
	if modelName != "" && ev.Model != model.Normalize(modelName) {
		return false
	}
	return key == "" || ev.Key == key
}

// assertTraceContains checks that some event matches op, model and key.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if eventMatches(ev, a.Op, a.Model, a.Key) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s on %q key %q", a.Op, a.Model, a.Key),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that ops appear in the given order. Ops need not
// be consecutive; each op is matched at its first occurrence after the
// previous one.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	pos := 0
	for _, op := range a.Ops {
		found := false
		for pos < len(trace) {
			ev := trace[pos]
			pos++
			if ev.Op == op {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", a.Ops),
				Actual:   fmt.Sprintf("%s not found after position %d", op, pos),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that op (on model, when given) appears exactly
// Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if eventMatches(ev, a.Op, a.Model, "") {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s to occur %d times", a.Op, a.Count),
			Actual:   fmt.Sprintf("occurred %d times", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState looks the record up after the run and compares it with
// the expectation.
func assertFinalState(ctx context.Context, f *adapter.Factory, trace []TraceEvent, a Assertion) error {
	ad, err := f.For(a.Model)
	if err != nil {
		return err
	}
	got, err := ad.Find(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("final_state find %s %q: %w", ad.Spec().Name, a.ID, err)
	}

	if a.Expect.Found != nil && (got != nil) != *a.Expect.Found {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s %q found=%t", ad.Spec().Name, a.ID, *a.Expect.Found),
			Actual:   fmt.Sprintf("found=%t", got != nil),
			Trace:    trace,
		}
	}
	if a.Expect.Payload != nil {
		if mismatch := matchSubset(got, a.Expect.Payload); mismatch != "" {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s %q payload to contain %v", ad.Spec().Name, a.ID, a.Expect.Payload),
				Actual:   mismatch,
				Trace:    trace,
			}
		}
	}
	return nil
}

// matchSubset checks that every key of want is present in got with the same
// value. Values are compared by canonical encoding, so a YAML integer
// matches the json.Number a backend decodes. Returns "" on match.
func matchSubset(got payload.Payload, want map[string]any) string {
	if got == nil {
		return "payload not found"
	}

	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		actual, ok := got[k]
		if !ok {
			return fmt.Sprintf("payload.%s missing", k)
		}
		wb, err := payload.MarshalCanonical(want[k])
		if err != nil {
			return fmt.Sprintf("payload.%s: %v", k, err)
		}
		ab, err := payload.MarshalCanonical(actual)
		if err != nil {
			return fmt.Sprintf("payload.%s: %v", k, err)
		}
		if !bytes.Equal(wb, ab) {
			return fmt.Sprintf("payload.%s = %s, expected %s", k, ab, wb)
		}
	}
	return ""
}
