package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/oidcstore/internal/adapter"
	"github.com/roach88/oidcstore/internal/payload"
	"github.com/roach88/oidcstore/internal/store"
	"github.com/roach88/oidcstore/internal/testutil"
)

// DefaultStart is the clock origin for scenarios that set no start.
var DefaultStart = testutil.Epoch

// Env is a fresh, provisioned backend driven by a frozen clock.
type Env interface {
	Factory() *adapter.Factory
	// Advance moves the clock, and anything that expires on its own, forward.
	Advance(d time.Duration)
	Now() time.Time
	Close() error
}

// EnvFactory creates an Env whose clock starts at start.
type EnvFactory func(ctx context.Context, start time.Time) (Env, error)

type sqliteEnv struct {
	store   *store.Store
	clock   *testutil.Clock
	factory *adapter.Factory
}

// SQLiteEnv runs each scenario in a fresh in-memory database.
func SQLiteEnv(ctx context.Context, start time.Time) (Env, error) {
	clock := testutil.NewClock(start)
	s, err := store.Open(":memory:", store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := s.Provision(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to provision store: %w", err)
	}
	return &sqliteEnv{
		store:   s,
		clock:   clock,
		factory: adapter.NewFactory(adapter.SQLite(s), nil),
	}, nil
}

func (e *sqliteEnv) Factory() *adapter.Factory { return e.factory }
func (e *sqliteEnv) Advance(d time.Duration)   { e.clock.Advance(d) }
func (e *sqliteEnv) Now() time.Time            { return e.clock.Now() }
func (e *sqliteEnv) Close() error              { return e.store.Close() }

// Harness replays scenarios against fresh environments.
type Harness struct {
	newEnv EnvFactory
	logger *slog.Logger
}

// New returns a Harness. A nil newEnv uses SQLiteEnv.
func New(newEnv EnvFactory, logger *slog.Logger) *Harness {
	if newEnv == nil {
		newEnv = SQLiteEnv
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Harness{newEnv: newEnv, logger: logger}
}

// Run executes a scenario against a fresh in-memory SQLite store.
func Run(scenario *Scenario) (*Result, error) {
	return New(nil, nil).Run(context.Background(), scenario)
}

// Run executes the scenario in a new Env and evaluates its assertions.
//
// Expectation and assertion failures are collected in the Result. The
// returned error is reserved for infrastructure failures: the environment
// could not be created, or a step failed in a way no expectation covers.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	start := DefaultStart
	if scenario.Start != 0 {
		start = time.Unix(scenario.Start, 0).UTC()
	}

	env, err := h.newEnv(ctx, start)
	if err != nil {
		return nil, err
	}
	defer env.Close()

	result := NewResult()
	for i, step := range scenario.Steps {
		ev, err := h.execute(ctx, env, step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d] %s: %w", i, step.Op, err)
		}
		ev.Seq = int64(i + 1)
		result.Trace = append(result.Trace, ev)

		for _, msg := range checkExpect(step.Expect, ev) {
			result.AddError(fmt.Sprintf("steps[%d] %s: %s", i, step.Op, msg))
		}
	}

	for i, assertion := range scenario.Assertions {
		if err := evaluateAssertion(ctx, env.Factory(), result.Trace, assertion); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}

	h.logger.Debug("scenario complete",
		"scenario", scenario.Name,
		"steps", len(result.Trace),
		"pass", result.Pass)
	return result, nil
}

// execute runs one step. Storage errors are folded into the event so
// expectations can match them; only malformed steps return an error.
func (h *Harness) execute(ctx context.Context, env Env, step Step) (TraceEvent, error) {
	if step.Op == OpAdvance {
		env.Advance(time.Duration(step.Seconds) * time.Second)
		return TraceEvent{Op: OpAdvance, Seconds: step.Seconds, At: env.Now().Unix()}, nil
	}

	a, err := env.Factory().For(step.Model)
	if err != nil {
		return TraceEvent{}, err
	}
	ev := TraceEvent{Op: step.Op, Model: a.Spec().Name}

	var (
		found  payload.Payload
		lookup bool
		opErr  error
	)
	switch step.Op {
	case OpUpsert:
		ev.Key = step.ID
		ev.Payload = payload.Payload(step.Payload)
		ev.ExpiresIn = step.ExpiresIn
		opErr = a.Upsert(ctx, step.ID, payload.Payload(step.Payload), step.ExpiresIn)
	case OpFind:
		ev.Key = step.ID
		lookup = true
		found, opErr = a.Find(ctx, step.ID)
	case OpFindByUserCode:
		ev.Key = step.Value
		lookup = true
		found, opErr = a.FindByUserCode(ctx, step.Value)
	case OpFindByUID:
		ev.Key = step.Value
		lookup = true
		found, opErr = a.FindByUID(ctx, step.Value)
	case OpDestroy:
		ev.Key = step.ID
		opErr = a.Destroy(ctx, step.ID)
	case OpConsume:
		ev.Key = step.ID
		opErr = a.Consume(ctx, step.ID)
	case OpRevokeByGrantID:
		ev.Key = step.GrantID
		opErr = a.RevokeByGrantID(ctx, step.GrantID)
	default:
		return TraceEvent{}, fmt.Errorf("unknown op %q", step.Op)
	}

	ev.At = env.Now().Unix()
	if opErr != nil {
		ev.Error = errorClass(opErr)
		h.logger.Debug("step failed", "op", step.Op, "kind", ev.Model, "key", ev.Key, "error", opErr)
		return ev, nil
	}
	if lookup {
		ok := found != nil
		ev.Found = &ok
		ev.Result = found
	}
	return ev, nil
}

func errorClass(err error) string {
	if store.IsConflict(err) {
		return ErrorConflict
	}
	return ErrorOther
}

// checkExpect compares a step's event against its expectation.
func checkExpect(exp *Expect, ev TraceEvent) []string {
	if exp == nil {
		if ev.Error != "" {
			return []string{fmt.Sprintf("unexpected %s error", ev.Error)}
		}
		return nil
	}

	if exp.Error != "" {
		if ev.Error != exp.Error {
			return []string{fmt.Sprintf("expected %s error, got %q", exp.Error, ev.Error)}
		}
		return nil
	}
	if ev.Error != "" {
		return []string{fmt.Sprintf("unexpected %s error", ev.Error)}
	}

	var msgs []string
	if exp.Found != nil {
		got := ev.Found != nil && *ev.Found
		if got != *exp.Found {
			msgs = append(msgs, fmt.Sprintf("expected found=%t, got found=%t", *exp.Found, got))
		}
	}
	if exp.Payload != nil {
		if mismatch := matchSubset(ev.Result, exp.Payload); mismatch != "" {
			msgs = append(msgs, mismatch)
		}
	}
	return msgs
}
