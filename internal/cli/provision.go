package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/oidcstore/internal/model"
	"github.com/roach88/oidcstore/internal/store"
)

// ProvisionResult is the data of a provision response.
type ProvisionResult struct {
	Backend string   `json:"backend"`
	Kinds   []string `json:"kinds"`
}

// ProvisionFailure describes one kind that could not be provisioned.
type ProvisionFailure struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// NewProvisionCommand creates the provision command.
func NewProvisionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "provision [model...]",
		Short: "Create storage for record kinds",
		Long: `Create the tables and indexes every record kind needs. With no
arguments all kinds are provisioned. Provisioning is idempotent and is meant
to run once at deployment or process startup.

On Redis there is no schema; provision checks connectivity and loads the
server-side scripts.

Every kind is attempted even when one fails; the failures are listed and the
command exits 2.

Examples:
  oidcstore provision
  oidcstore provision AccessToken Session
  oidcstore provision --backend redis --redis-url redis://localhost:6379/0`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(rootOpts, args, cmd)
		},
	}
}

func runProvision(opts *RootOptions, names []string, cmd *cobra.Command) error {
	ctx := context.Background()
	f := opts.formatter(cmd)

	specs := make([]model.Spec, 0, len(names))
	for _, name := range names {
		spec, err := model.Lookup(name)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeUnknownKind, fmt.Sprintf("unknown model %q", name), err)
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		specs = model.Specs()
	}

	b, err := connect(ctx, opts, f)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.Provision(ctx, specs...); err != nil {
		if perr, ok := store.IsProvisionError(err); ok {
			failures := make([]ProvisionFailure, len(perr.Failures))
			for i, kf := range perr.Failures {
				failures[i] = ProvisionFailure{Kind: kf.Kind.String(), Error: kf.Err.Error()}
			}
			_ = f.Error(ErrCodeProvision, fmt.Sprintf("%d kind(s) failed to provision", len(failures)), failures)
			exitErr := WrapExitError(ExitCommandError, ErrCodeProvision, err)
			exitErr.Reported = true
			return exitErr
		}
		return f.Fail(ExitCommandError, ErrCodeProvision, "provision failed", err)
	}

	result := ProvisionResult{Backend: b.Name(), Kinds: make([]string, len(specs))}
	for i, spec := range specs {
		result.Kinds[i] = spec.Name
	}
	return f.Success(result, fmt.Sprintf("✓ Provisioned %d kind(s) on %s: %s",
		len(result.Kinds), result.Backend, strings.Join(result.Kinds, ", ")))
}
