package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: one upsert
steps:
  - op: upsert
    model: AccessToken
    id: at1
    payload: {grantId: g1}
    expires_in: 60
`

func TestParseScenario_Valid(t *testing.T) {
	s, err := ParseScenario("minimal.yaml", []byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.Steps, 1)
	st := s.Steps[0]
	assert.Equal(t, OpUpsert, st.Op)
	assert.Equal(t, "AccessToken", st.Model)
	assert.Equal(t, "at1", st.ID)
	assert.Equal(t, 60, st.ExpiresIn)
	assert.Equal(t, "g1", st.Payload["grantId"])
	assert.Nil(t, st.Expect)
}

func TestParseScenario_Testdata(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			s, err := LoadScenario(f)
			require.NoError(t, err)
			assert.NotEmpty(t, s.Steps)
			assert.NotEmpty(t, s.Assertions)
		})
	}
}

func TestParseScenario_Expect(t *testing.T) {
	src := `
name: expect
description: lookups with expectations
steps:
  - op: find_by_user_code
    model: device_code
    value: ABCD
    expect:
      found: true
      payload: {clientId: tv}
  - op: upsert
    model: Session
    id: s1
    payload: {}
    expect: {error: conflict}
`
	s, err := ParseScenario("expect.yaml", []byte(src))
	require.NoError(t, err)

	exp := s.Steps[0].Expect
	require.NotNil(t, exp)
	require.NotNil(t, exp.Found)
	assert.True(t, *exp.Found)
	assert.Equal(t, map[string]any{"clientId": "tv"}, exp.Payload)
	assert.Equal(t, ErrorConflict, s.Steps[1].Expect.Error)
	assert.NotNil(t, s.Steps[1].Payload)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "empty",
			src:     "",
			wantErr: "empty scenario",
		},
		{
			name:    "malformed yaml",
			src:     "name: [unclosed",
			wantErr: "failed to parse YAML",
		},
		{
			name: "unknown top-level field",
			src: `
name: x
description: x
step: []
steps:
  - op: advance
    seconds: 1
`,
			wantErr: "schema",
		},
		{
			name: "unknown step field",
			src: `
name: x
description: x
steps:
  - op: find
    model: Session
    id: s1
    ttl: 5
`,
			wantErr: "schema",
		},
		{
			name: "missing description",
			src: `
name: x
steps:
  - op: advance
    seconds: 1
`,
			wantErr: "description",
		},
		{
			name: "no steps",
			src: `
name: x
description: x
steps: []
`,
			wantErr: "schema",
		},
		{
			name: "unknown op",
			src: `
name: x
description: x
steps:
  - op: truncate
    model: Session
`,
			wantErr: "schema",
		},
		{
			name: "negative expires_in",
			src: `
name: x
description: x
steps:
  - op: upsert
    model: Session
    id: s1
    payload: {}
    expires_in: -1
`,
			wantErr: "schema",
		},
		{
			name: "unknown error class",
			src: `
name: x
description: x
steps:
  - op: destroy
    model: Session
    id: s1
    expect: {error: boom}
`,
			wantErr: "schema",
		},
		{
			name: "unknown model",
			src: `
name: x
description: x
steps:
  - op: find
    model: Widget
    id: w1
`,
			wantErr: "unknown",
		},
		{
			name: "upsert without payload",
			src: `
name: x
description: x
steps:
  - op: upsert
    model: Session
    id: s1
`,
			wantErr: "payload is required",
		},
		{
			name: "find without id",
			src: `
name: x
description: x
steps:
  - op: find
    model: Session
`,
			wantErr: "id is required",
		},
		{
			name: "secondary lookup without value",
			src: `
name: x
description: x
steps:
  - op: find_by_uid
    model: Session
`,
			wantErr: "value is required",
		},
		{
			name: "revoke on kind without grant",
			src: `
name: x
description: x
steps:
  - op: revoke_by_grant_id
    model: Session
    grant_id: g1
`,
			wantErr: "carry no grant",
		},
		{
			name: "advance without seconds",
			src: `
name: x
description: x
steps:
  - op: advance
`,
			wantErr: "seconds must be positive",
		},
		{
			name: "final_state without id",
			src: `
name: x
description: x
steps:
  - op: advance
    seconds: 1
assertions:
  - type: final_state
    model: Session
    expect: {found: false}
`,
			wantErr: "model and id are required",
		},
		{
			name: "trace_order without ops",
			src: `
name: x
description: x
steps:
  - op: advance
    seconds: 1
assertions:
  - type: trace_order
`,
			wantErr: "ops list is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario(tt.name+".yaml", []byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_FromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
}
