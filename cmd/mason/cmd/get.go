package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Fetch dependencies and pin them in the lockfile",
	Long: `Converges the dependency graph and fetches every dependency that is
missing or out of sync with the lockfile. Locked dependencies are checked
out at their locked identity; new dependencies are resolved and added to
the lock. The lockfile is written once, atomically, at the end.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := loadProject()
		if err != nil {
			return err
		}
		root, err := projectRoot()
		if err != nil {
			return err
		}
		s := loadSettings()

		f, err := newFetcher(cmd.Context(), s, root)
		if err != nil {
			return err
		}

		p := newProgress(loggerFromContext(cmd.Context()))
		res, err := f.Get(cmd.Context(), project, root)
		if res != nil {
			for _, w := range res.Warnings {
				printWarning("%s", w)
			}
		}
		if err != nil {
			return err
		}
		p.done(fmt.Sprintf("Resolved %d dependencies", len(res.Deps)))

		for _, d := range res.Deps {
			if d.Status.Ready() {
				continue
			}
			printWarning("%s: %s", d.Name, describeStatus(d))
			if d.Diag.Command != "" {
				info("  run: %s", render(styleCommand, d.Diag.Command))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
