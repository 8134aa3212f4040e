package app

import (
	"encoding/json"
	"fmt"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/TKOaly/user-service-sub000/projection"
	"github.com/spf13/cobra"
)

func newRebuildCmd(load configLoader) *cobra.Command {
	var opts projection.RebuildOptions

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Replay the event log into the user projection",
		Long: `Rebuild truncates the user projection and replays every event from the log
inside one transaction. Differences from the previous projection that are not
explicitly allowed roll the transaction back.

Stop running servers first or use POST /api/admin/projection/rebuild, which
pauses the live listener around the rebuild.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, rerr := rt.engine.Rebuild(cmd.Context(), opts)
			if report != nil {
				out, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			if auth.HasTextCode(rerr, auth.TextCodeRebuildDrift) {
				return fmt.Errorf("rebuild rolled back, %d discrepancies not allowed", len(report.Flagged()))
			}
			return rerr
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.AllowCreate, "allow-create", false, "accept users that only exist after the rebuild")
	flags.BoolVar(&opts.AllowRemove, "allow-remove", false, "accept users that disappear in the rebuild")
	flags.StringSliceVar(&opts.AllowedChangedFields, "allow-field", nil, "accept changes to this field, repeatable")
	flags.BoolVar(&opts.AllowAllFields, "allow-all-fields", false, "accept changes to any field")
	flags.BoolVar(&opts.DryRun, "dry-run", false, "report differences without committing")
	return cmd
}
