package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var updateAll bool

var updateCmd = &cobra.Command{
	Use:   "update [dep...]",
	Short: "Update dependencies to the newest allowed version",
	Long: `Re-resolves the named dependencies against their upstream source,
ignoring the lockfile for them: git dependencies move to the newest commit
their declaration allows, registry dependencies to the highest release
satisfying their requirement. All other dependencies keep their locked
identity. The lockfile is rewritten with the new pins.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !updateAll {
			return errors.New("specify the dependencies to update, or --all")
		}

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

		names := args
		if updateAll {
			names = nil
		}

		p := newProgress(loggerFromContext(cmd.Context()))
		res, err := f.Update(cmd.Context(), project, root, names)
		if res != nil {
			for _, w := range res.Warnings {
				printWarning("%s", w)
			}
		}
		if err != nil {
			return err
		}
		n := len(res.Deps)
		if len(names) > 0 {
			n = len(names)
		}
		p.done(fmt.Sprintf("Updated %d dependencies", n))
		return nil
	},
}

func init() {
	updateCmd.Flags().BoolVar(&updateAll, "all", false, "update every dependency")
	rootCmd.AddCommand(updateCmd)
}
