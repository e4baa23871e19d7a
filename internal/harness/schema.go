package harness

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// A cue.Context is not safe for concurrent use; schemaMu guards it.
var (
	schemaOnce  sync.Once
	schemaMu    sync.Mutex
	schemaCtx   *cue.Context
	scenarioDef cue.Value
	schemaErr   error
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile scenario schema: %w", err)
			return
		}
		scenarioDef = v.LookupPath(cue.ParsePath("#Scenario"))
		if err := scenarioDef.Err(); err != nil {
			schemaErr = fmt.Errorf("lookup #Scenario: %w", err)
		}
	})
	return schemaCtx, scenarioDef, schemaErr
}

// validateSchema checks a scenario document against #Scenario. The YAML is
// re-encoded as JSON, which CUE compiles directly.
func validateSchema(filename string, data []byte) error {
	ctx, def, err := loadSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty scenario document")
		}
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	jsonDoc, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("convert %s: %w", filename, err)
	}

	schemaMu.Lock()
	defer schemaMu.Unlock()

	v := ctx.CompileBytes(jsonDoc, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return fmt.Errorf("compile %s: %w", filename, err)
	}
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
