package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xiaoqinglee/mason/internal/deps"
	"github.com/xiaoqinglee/mason/internal/lock"
)

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "List dependencies and their status",
	Long: `Converges the dependency graph and prints one block per dependency: its
resolved source, the locked identity, and its status against the lock, the
build metadata and the running runtime. Exits non-zero when any dependency
needs attention.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := loadProject()
		if err != nil {
			return err
		}
		root, err := projectRoot()
		if err != nil {
			return err
		}

		r, err := newResolver(cmd.Context(), loadSettings(), root)
		if err != nil {
			return err
		}
		res := r.Resolve(cmd.Context(), project, root)

		if len(res.Deps) == 0 && !res.Failed() {
			info("No dependencies declared.")
			return nil
		}

		for _, d := range res.Deps {
			printDep(d, r.Lock)
		}
		for _, w := range res.Warnings {
			printWarning("%s", w)
		}

		if err := res.Err(); err != nil {
			return err
		}

		notReady := 0
		for _, d := range res.Deps {
			if !d.Status.Ready() {
				notReady++
			}
		}
		if notReady > 0 {
			return fmt.Errorf("%d dependency(s) not ready", notReady)
		}
		return nil
	},
}

// printDep renders one dependency block: header, lock line, status.
func printDep(d *deps.Dep, lockMap lock.Map) {
	line := "* " + render(styleName, d.Name)
	if d.Version != "" {
		line += " " + d.Version
	}
	line += " " + render(styleDim, "("+d.Adapter.Format(d.Spec)+")")
	if d.Manager != deps.ManagerNone {
		line += " " + render(styleDim, d.Manager.String())
	}
	fmt.Println(line)

	if e, ok := lockMap[d.Name]; ok {
		if locked := d.Adapter.FormatLock(&e); locked != "" {
			fmt.Println("  " + render(styleDim, "locked at "+locked))
		}
	}

	fmt.Println("  " + render(statusStyle(d.Status), statusIcon(d.Status)+" "+describeStatus(d)))
	if d.Diag.Command != "" && !d.Status.Ready() {
		fmt.Println("  " + render(styleDim, "run: ") + render(styleCommand, d.Diag.Command))
	}
}

func init() {
	rootCmd.AddCommand(depsCmd)
}
