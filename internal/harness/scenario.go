package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/oidcstore/internal/model"
)

// Scenario is a scripted sequence of adapter calls with expectations.
// Scenarios describe token lifecycles (issue, look up, consume, revoke,
// expire) and are replayed against every backend with a frozen clock.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the unix time the clock is frozen at. Zero uses the
	// harness default so golden traces stay stable.
	Start int64 `yaml:"start,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after every step has run.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one adapter call or clock movement.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// Model is the engine-facing model name ("DeviceCode", "Session", ...).
	Model string `yaml:"model,omitempty"`

	// ID is the record id for upsert, find, destroy and consume.
	ID string `yaml:"id,omitempty"`

	// Value is the user code or uid for secondary lookups.
	Value string `yaml:"value,omitempty"`

	// GrantID is the grant for revoke_by_grant_id.
	GrantID string `yaml:"grant_id,omitempty"`

	// Payload is the value stored by upsert.
	Payload map[string]any `yaml:"payload,omitempty"`

	// ExpiresIn is the upsert lifetime in seconds. Zero never expires.
	ExpiresIn int `yaml:"expires_in,omitempty"`

	// Seconds is how far advance moves the clock.
	Seconds int `yaml:"seconds,omitempty"`

	// Expect checks the outcome of this step. Nil means the step must
	// simply not fail.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the outcome of a step.
type Expect struct {
	// Found is checked for lookup steps when set.
	Found *bool `yaml:"found,omitempty"`

	// Payload is a subset match against the returned payload.
	Payload map[string]any `yaml:"payload,omitempty"`

	// Error is the expected error class: "conflict" or "error".
	// When empty the step must succeed.
	Error string `yaml:"error,omitempty"`
}

// Step operations.
const (
	OpUpsert          = "upsert"
	OpFind            = "find"
	OpFindByUserCode  = "find_by_user_code"
	OpFindByUID       = "find_by_uid"
	OpDestroy         = "destroy"
	OpConsume         = "consume"
	OpRevokeByGrantID = "revoke_by_grant_id"
	OpAdvance         = "advance"
)

// Error classes recorded in traces and matched by Expect.Error.
const (
	ErrorConflict = "conflict"
	ErrorOther    = "error"
)

// Assertion validates the trace or the final stored state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an op on model (and key, if given) appears in the trace
	// - "trace_order": ops appear in this order
	// - "trace_count": op appears exactly Count times
	// - "final_state": the record Model/ID looks like Expect after the run
	Type string `yaml:"type"`

	// Op is used by trace_contains and trace_count.
	Op string `yaml:"op,omitempty"`

	// Model narrows trace_contains and trace_count, and names the kind for
	// final_state.
	Model string `yaml:"model,omitempty"`

	// Key narrows trace_contains to one id, user code, uid or grant id.
	Key string `yaml:"key,omitempty"`

	// ID is the record checked by final_state.
	ID string `yaml:"id,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Ops is the expected op order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Expect is the expected record state (final_state).
	Expect *Expect `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(filepath.Base(path), data)
}

// ParseScenario parses scenario YAML. The document is first checked against
// the embedded CUE schema, then decoded with unknown fields rejected, then
// checked for cross-field constraints the schema cannot express.
func ParseScenario(filename string, data []byte) (*Scenario, error) {
	if err := validateSchema(filename, data); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	if st.Op == OpAdvance {
		if st.Seconds <= 0 {
			return fmt.Errorf("steps[%d]: seconds must be positive for advance", index)
		}
		return nil
	}

	if st.Model == "" {
		return fmt.Errorf("steps[%d]: model is required for %s", index, st.Op)
	}
	spec, err := model.Lookup(st.Model)
	if err != nil {
		return fmt.Errorf("steps[%d]: %w", index, err)
	}

	switch st.Op {
	case OpUpsert:
		if st.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for upsert", index)
		}
		if st.Payload == nil {
			return fmt.Errorf("steps[%d]: payload is required for upsert (use {} for empty)", index)
		}
		if st.ExpiresIn < 0 {
			return fmt.Errorf("steps[%d]: expires_in must be non-negative", index)
		}
	case OpFind, OpDestroy, OpConsume:
		if st.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for %s", index, st.Op)
		}
	case OpFindByUserCode, OpFindByUID:
		if st.Value == "" {
			return fmt.Errorf("steps[%d]: value is required for %s", index, st.Op)
		}
	case OpRevokeByGrantID:
		if st.GrantID == "" {
			return fmt.Errorf("steps[%d]: grant_id is required for revoke_by_grant_id", index)
		}
		if !spec.Grantable {
			return fmt.Errorf("steps[%d]: %s records carry no grant", index, spec.Name)
		}
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}

	if st.Expect != nil {
		switch st.Expect.Error {
		case "", ErrorConflict, ErrorOther:
		default:
			return fmt.Errorf("steps[%d].expect: unknown error class %q", index, st.Expect.Error)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Model == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: model and id are required for final_state", index)
		}
		if _, err := model.Lookup(a.Model); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
