package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/oidcstore/internal/store"
)

// CountResult is the data of revoke and reap responses: records deleted per
// kind. Kinds with nothing deleted are omitted.
type CountResult struct {
	Deleted map[string]int64 `json:"deleted"`
	Total   int64            `json:"total"`
}

func newCountResult(deleted map[string]int64) CountResult {
	r := CountResult{Deleted: deleted}
	for _, n := range deleted {
		r.Total += n
	}
	return r
}

func (r CountResult) text(verb string) string {
	if r.Total == 0 {
		return fmt.Sprintf("✓ %s nothing", verb)
	}
	names := make([]string, 0, len(r.Deleted))
	for name := range r.Deleted {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "✓ %s %d record(s)", verb, r.Total)
	for _, name := range names {
		fmt.Fprintf(&b, "\n  %s: %d", name, r.Deleted[name])
	}
	return b.String()
}

// RevokeOptions holds flags for the revoke command.
type RevokeOptions struct {
	*RootOptions
	Model string // restrict to one kind
}

// NewRevokeCommand creates the revoke command.
func NewRevokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RevokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "revoke <grant-id>",
		Short: "Delete every record issued under a grant",
		Long: `Delete the access tokens, authorization codes, refresh tokens and
device codes whose payload.grantId equals grant-id. With --model only that
kind is revoked, the way the provider revokes one kind at a time.

Examples:
  oidcstore revoke g-123
  oidcstore revoke g-123 --model RefreshToken`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRevoke(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "revoke only this kind")

	return cmd
}

func runRevoke(opts *RevokeOptions, grantID string, cmd *cobra.Command) error {
	ctx := context.Background()
	f := opts.formatter(cmd)

	return withBackend(ctx, opts.RootOptions, f, func(b Backend) error {
		if opts.Model != "" {
			a, err := adapterFor(b, f, opts.Model)
			if err != nil {
				return err
			}
			if !a.Spec().Grantable {
				return f.Fail(ExitCommandError, ErrCodeInvalidInput,
					fmt.Sprintf("%s records carry no grant", a.Spec().Name), nil)
			}
			if err := a.RevokeByGrantID(ctx, grantID); err != nil {
				return storageFailure(f, "revoke", err)
			}
			return f.Success(map[string]string{"kind": a.Spec().Name, "grant_id": grantID},
				fmt.Sprintf("✓ Revoked %s records of grant %s", a.Spec().Name, grantID))
		}

		deleted, err := b.RevokeGrant(ctx, grantID)
		if err != nil {
			return storageFailure(f, "revoke", err)
		}
		r := newCountResult(kindCounts(deleted))
		return f.Success(r, r.text("Revoked"))
	})
}

// NewReapCommand creates the reap command.
func NewReapCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete expired records",
		Long: `Physically delete records whose expiry has passed. Expired records
are already invisible to reads; reaping only reclaims space. Redis expires
keys itself, so on Redis this deletes nothing.

Examples:
  oidcstore reap
  oidcstore reap --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReap(rootOpts, cmd)
		},
	}
}

func runReap(opts *RootOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	f := opts.formatter(cmd)

	return withBackend(ctx, opts, f, func(b Backend) error {
		deleted, err := b.Reap(ctx)
		if err != nil {
			return storageFailure(f, "reap", err)
		}
		r := newCountResult(kindCounts(deleted))
		return f.Success(r, r.text("Reaped"))
	})
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count records per kind",
		Long: `Show, for every kind, whether its storage exists, how many records it
holds and how many of those have expired but not yet been reaped.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd)
		},
	}
}

func runStats(opts *RootOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	f := opts.formatter(cmd)

	// stats is useful before provisioning, so skip the readiness check
	b, err := connect(ctx, opts, f)
	if err != nil {
		return err
	}
	defer b.Close()

	stats, err := b.Stats(ctx)
	if err != nil {
		return storageFailure(f, "stats", err)
	}
	if f.JSON() {
		return f.Success(stats, "")
	}
	return f.Success(stats, statsTable(stats))
}

func statsTable(stats []store.KindStats) string {
	var buf strings.Builder
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "KIND\tRECORDS\tEXPIRED\t")
	var records, expired int64
	for _, s := range stats {
		if !s.Provisioned {
			fmt.Fprintf(tw, "%s\t-\t-\t\n", s.Name)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t\n", s.Name, s.Records, s.Expired)
		records += s.Records
		expired += s.Expired
	}
	fmt.Fprintf(tw, "total\t%d\t%d\t\n", records, expired)
	_ = tw.Flush()
	return strings.TrimSuffix(buf.String(), "\n")
}
