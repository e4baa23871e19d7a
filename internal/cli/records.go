package cli

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/oidcstore/internal/adapter"
	"github.com/roach88/oidcstore/internal/model"
	"github.com/roach88/oidcstore/internal/payload"
	"github.com/roach88/oidcstore/internal/store"
)

// RecordResult is the data of put, get and find responses.
type RecordResult struct {
	Kind    string          `json:"kind"`
	ID      string          `json:"id,omitempty"`
	Payload payload.Payload `json:"payload,omitempty"`
}

// PutOptions holds flags for the put command.
type PutOptions struct {
	*RootOptions
	Payload   string // inline JSON object
	File      string // path to a JSON file, "-" for stdin
	ExpiresIn int    // seconds; zero never expires
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <model> [id]",
		Short: "Store a record",
		Long: `Store a payload under id, replacing any existing record. Without an
id a time-ordered UUID is generated.

Device codes must not reuse the userCode of another live device code, and
sessions must not reuse the uid of another live session; such writes fail
with E_CONFLICT.

Examples:
  oidcstore put AccessToken at-1 --payload '{"grantId":"g1"}' --expires-in 3600
  oidcstore put Session --file session.json
  cat code.json | oidcstore put DeviceCode dc-1 --file - --expires-in 600`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 2 {
				id = args[1]
			}
			return runPut(opts, args[0], id, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Payload, "payload", "", "payload as a JSON object")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read the payload from a file (- for stdin)")
	cmd.Flags().IntVar(&opts.ExpiresIn, "expires-in", 0, "lifetime in seconds (0 never expires)")
	cmd.MarkFlagsMutuallyExclusive("payload", "file")
	cmd.MarkFlagsOneRequired("payload", "file")

	return cmd
}

func runPut(opts *PutOptions, modelName, id string, cmd *cobra.Command) error {
	ctx := context.Background()
	f := opts.formatter(cmd)

	if opts.ExpiresIn < 0 {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "--expires-in must not be negative", nil)
	}
	p, err := readPayload(opts.Payload, opts.File, cmd.InOrStdin())
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid payload", err)
	}
	if id == "" {
		u, err := uuid.NewV7()
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeInvalidInput, "failed to generate id", err)
		}
		id = u.String()
		f.VerboseLog("Generated id %s", id)
	}

	return withBackend(ctx, opts.RootOptions, f, func(b Backend) error {
		a, err := adapterFor(b, f, modelName)
		if err != nil {
			return err
		}
		if err := a.Upsert(ctx, id, p, opts.ExpiresIn); err != nil {
			return storageFailure(f, "put", err)
		}

		text := fmt.Sprintf("✓ Stored %s %s", a.Spec().Name, id)
		switch {
		case int64(opts.ExpiresIn) > math.MaxInt64/int64(time.Second):
			text += fmt.Sprintf(" (expires in %ds)", opts.ExpiresIn)
		case opts.ExpiresIn > 0:
			text += fmt.Sprintf(" (expires in %s)", time.Duration(opts.ExpiresIn)*time.Second)
		}
		return f.Success(RecordResult{Kind: a.Spec().Name, ID: id}, text)
	})
}

// readPayload decodes the payload from an inline string or a file.
func readPayload(inline, file string, stdin io.Reader) (payload.Payload, error) {
	if file == "" {
		return payload.DecodeString(inline)
	}

	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return payload.Decode(data)
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <model> <id>",
		Short: "Print a record",
		Long: `Print the payload stored under id. Expired records are reported as
not found (exit code 1), exactly as the provider would see them.

Examples:
  oidcstore get RefreshToken rt-1
  oidcstore get Session s-1 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runGet(opts *RootOptions, modelName, id string, cmd *cobra.Command) error {
	ctx := context.Background()
	f := opts.formatter(cmd)

	return withBackend(ctx, opts, f, func(b Backend) error {
		a, err := adapterFor(b, f, modelName)
		if err != nil {
			return err
		}
		p, err := a.Find(ctx, id)
		if err != nil {
			return storageFailure(f, "get", err)
		}
		return outputRecord(f, a, id, p)
	})
}

// FindOptions holds flags for the find command.
type FindOptions struct {
	*RootOptions
	UserCode string
	UID      string
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find <model>",
		Short: "Look a record up by user code or uid",
		Long: `Look a device code up by its user code, or a session by its uid.
Other kinds have no secondary lookup and always report not found.

Examples:
  oidcstore find DeviceCode --user-code ABCD-EFGH
  oidcstore find Session --uid 1f0c2b`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.UserCode, "user-code", "", "device code user code")
	cmd.Flags().StringVar(&opts.UID, "uid", "", "session uid")
	cmd.MarkFlagsMutuallyExclusive("user-code", "uid")
	cmd.MarkFlagsOneRequired("user-code", "uid")

	return cmd
}

func runFind(opts *FindOptions, modelName string, cmd *cobra.Command) error {
	ctx := context.Background()
	f := opts.formatter(cmd)

	return withBackend(ctx, opts.RootOptions, f, func(b Backend) error {
		a, err := adapterFor(b, f, modelName)
		if err != nil {
			return err
		}

		var (
			p     payload.Payload
			field = model.SecondaryUID
			value = opts.UID
		)
		if opts.UserCode != "" {
			field, value = model.SecondaryUserCode, opts.UserCode
			p, err = a.FindByUserCode(ctx, value)
		} else {
			p, err = a.FindByUID(ctx, value)
		}
		if err != nil {
			return storageFailure(f, "find", err)
		}
		if p == nil {
			return f.Fail(ExitFailure, ErrCodeNotFound,
				fmt.Sprintf("no %s with %s %q", a.Spec().Name, field.Field(), value), nil)
		}
		return outputRecord(f, a, "", p)
	})
}

// NewDestroyCommand creates the destroy command.
func NewDestroyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <model> <id>",
		Short: "Delete a record",
		Long: `Delete the record stored under id. Deleting a missing record succeeds.

Examples:
  oidcstore destroy Session s-1`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordWrite(rootOpts, args[0], args[1], cmd, "destroy", "Destroyed", (*adapter.Adapter).Destroy)
		},
	}
}

// NewConsumeCommand creates the consume command.
func NewConsumeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "consume <model> <id>",
		Short: "Mark a record consumed",
		Long: `Set payload.consumed to the current unix time. Consuming a missing or
expired record succeeds and changes nothing.

Examples:
  oidcstore consume AuthorizationCode ac-1`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordWrite(rootOpts, args[0], args[1], cmd, "consume", "Consumed", (*adapter.Adapter).Consume)
		},
	}
}

func runRecordWrite(opts *RootOptions, modelName, id string, cmd *cobra.Command, verb, done string,
	op func(*adapter.Adapter, context.Context, string) error) error {
	ctx := context.Background()
	f := opts.formatter(cmd)

	return withBackend(ctx, opts, f, func(b Backend) error {
		a, err := adapterFor(b, f, modelName)
		if err != nil {
			return err
		}
		if err := op(a, ctx, id); err != nil {
			return storageFailure(f, verb, err)
		}
		return f.Success(RecordResult{Kind: a.Spec().Name, ID: id},
			fmt.Sprintf("✓ %s %s %s", done, a.Spec().Name, id))
	})
}

func outputRecord(f *OutputFormatter, a *adapter.Adapter, id string, p payload.Payload) error {
	if p == nil {
		return f.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("%s %q not found", a.Spec().Name, id), nil)
	}
	if f.JSON() {
		return f.Success(RecordResult{Kind: a.Spec().Name, ID: id, Payload: p}, "")
	}
	data, err := p.Encode()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStorage, "failed to encode payload", err)
	}
	return f.Success(nil, string(data))
}

// storageFailure maps an adapter error to a reported ExitError.
func storageFailure(f *OutputFormatter, verb string, err error) error {
	if store.IsConflict(err) {
		return f.Fail(ExitFailure, ErrCodeConflict, verb+" conflicts with a live record", err)
	}
	return f.Fail(ExitCommandError, ErrCodeStorage, verb+" failed", err)
}
