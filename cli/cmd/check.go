package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/BDNK1/scriptval/runtime"
)

var checkAppIDs []int64

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the script and hooks resolve",
	Long: `Check loads the configured script and reports which workload ids have a
validator and a cleaner registered, and whether the auxiliary module
provides its hooks. No results are validated.

Example:
  scriptval check --appid 42 --appid 43`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().Int64SliceVar(&checkAppIDs, "appid", nil, "Workload id to look up (repeatable)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, stop, err := bootstrap(ctx, configPath, cmd.ErrOrStderr(), abortOptions...)
	if err != nil {
		return err
	}
	defer func() {
		if err := stop(ctx); err != nil {
			app.Logger.ErrorContext(ctx, "Shutdown failed", "error", err)
		}
	}()

	if err := app.Runtime.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing %s runtime: %w", app.Runtime.Name(), err)
	}

	missing, err := writeCheck(ctx, cmd.OutOrStdout(), app, checkAppIDs)
	if err != nil {
		return err
	}
	if missing > 0 {
		return fmt.Errorf("%d registry entries missing", missing)
	}
	return nil
}

// writeCheck prints one line per lookup and returns how many registry
// entries are missing. Missing hooks are not counted: they are optional.
func writeCheck(ctx context.Context, out io.Writer, app *runtime.App, ids []int64) (int, error) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	missing := 0

	for _, id := range ids {
		key := runtime.WorkloadID(id).Key()
		for _, registry := range []string{runtime.RegistryValidators, runtime.RegistryCleaners} {
			res, err := app.Runtime.Resolve(ctx, registry, key)
			if err != nil {
				return missing, err
			}
			if _, ok := res.Callable(); ok {
				fmt.Fprintf(w, "%s[%s]\tok\n", registry, key)
			} else {
				missing++
				fmt.Fprintf(w, "%s[%s]\tmissing\t%s\n", registry, key, res.Reason())
			}
		}
	}

	module := app.Config.AuxModule
	for _, hook := range []string{runtime.HookUpdateProcess, runtime.HookContinueChildren} {
		res, err := app.Runtime.ResolveHook(ctx, module, hook)
		if err != nil {
			return missing, err
		}
		if _, ok := res.Callable(); ok {
			fmt.Fprintf(w, "%s.%s\tok\n", module, hook)
		} else {
			fmt.Fprintf(w, "%s.%s\tskipped\t%s\n", module, hook, res.Reason())
		}
	}

	return missing, w.Flush()
}
