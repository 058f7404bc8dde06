package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xiaoqinglee/mason/internal/deps"
)

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the dependency tree",
	Long: `Prints the converged dependency graph as a tree rooted at the project.
Dependencies appearing under several parents are printed under each; a
cycle is cut at its first repetition.`,
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

		r, err := newResolver(cmd.Context(), s, root)
		if err != nil {
			return err
		}
		res := r.Resolve(cmd.Context(), project, root)

		fmt.Println(render(styleName, project.Name))
		var tops []*deps.Dep
		for _, d := range res.Deps {
			if d.TopLevel {
				tops = append(tops, d)
			}
		}
		for i, d := range tops {
			printBranch(res, d, "", i == len(tops)-1, map[string]bool{})
		}

		for _, w := range res.Warnings {
			printWarning("%s", w)
		}
		return res.Err()
	},
}

func printBranch(res *deps.Result, d *deps.Dep, prefix string, last bool, onPath map[string]bool) {
	connector, childPrefix := "├── ", prefix+"│   "
	if last {
		connector, childPrefix = "└── ", prefix+"    "
	}

	label := d.Name
	if d.Requirement != "" {
		label += " " + d.Requirement
	}
	label += " " + render(styleDim, "("+d.Adapter.Name()+")")
	fmt.Println(prefix + render(styleDim, connector) + label)

	if onPath[d.Name] {
		return
	}
	onPath[d.Name] = true
	defer delete(onPath, d.Name)

	var kids []*deps.Dep
	for _, decl := range d.Children {
		if k, ok := res.ByName(decl.Name); ok {
			kids = append(kids, k)
		}
	}
	for i, k := range kids {
		printBranch(res, k, childPrefix, i == len(kids)-1, onPath)
	}
}

func init() {
	depsCmd.AddCommand(treeCmd)
}
