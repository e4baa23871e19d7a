package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/oidcstore/internal/model"
)

// KindInfo describes one record kind.
type KindInfo struct {
	Name      string `json:"name"`
	Grantable bool   `json:"grantable"`
	Secondary string `json:"secondary,omitempty"`
}

// NewKindsCommand creates the kinds command.
func NewKindsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List record kinds",
		Long: `List every record kind the store knows, whether it takes part in
grant revocation, and the secondary field it can be looked up by.

Model names are accepted in any case style: AccessToken, accessToken and
access_token all name the same kind.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKinds(rootOpts, cmd)
		},
	}
}

func runKinds(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	specs := model.Specs()
	kinds := make([]KindInfo, len(specs))
	for i, spec := range specs {
		kinds[i] = KindInfo{Name: spec.Name, Grantable: spec.Grantable}
		if spec.Secondary != model.SecondaryNone {
			kinds[i].Secondary = spec.Secondary.Field()
		}
	}

	if f.JSON() {
		return f.Success(kinds, "")
	}

	var buf strings.Builder
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tGRANT\tLOOKUP")
	for _, k := range kinds {
		grant := "-"
		if k.Grantable {
			grant = "yes"
		}
		lookup := k.Secondary
		if lookup == "" {
			lookup = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", k.Name, grant, lookup)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return f.Success(kinds, strings.TrimSuffix(buf.String(), "\n"))
}
