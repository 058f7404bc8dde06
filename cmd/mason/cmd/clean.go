package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/xiaoqinglee/mason/internal/cache"
)

var (
	cleanAll       bool
	cleanUnused    bool
	cleanBuildOnly bool
	cleanCache     bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean [dep...]",
	Short: "Remove dependency checkouts and build artifacts",
	Long: `Removes the named dependencies' build artifacts in every environment,
and their checkouts unless --build is given. Lock entries stay; the next
fetch restores the same identities. --unused removes checkouts no longer
reachable from the manifest, --cache empties the shared package cache.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := loadSettings()

		if cleanCache {
			c, err := cache.New(s.CacheDir)
			if err != nil {
				return err
			}
			size, err := c.Size()
			if err != nil {
				return err
			}
			if err := c.Purge(); err != nil {
				return err
			}
			info("Purged the package cache at %s (%s).", c.Path(), humanSize(size))
			if len(args) == 0 && !cleanAll && !cleanUnused {
				return nil
			}
		}

		if len(args) == 0 && !cleanAll && !cleanUnused {
			return errors.New("specify the dependencies to clean, or one of --all, --unused, --cache")
		}

		root, err := projectRoot()
		if err != nil {
			return err
		}
		cleaner := newCleaner(s, root)

		names := args
		switch {
		case cleanAll:
			resolved, err := resolvedDepNames(cmd)
			if err != nil {
				return err
			}
			names = resolved

		case cleanUnused:
			resolved, err := resolvedDepNames(cmd)
			if err != nil {
				return err
			}
			keep := make(map[string]bool, len(resolved))
			for _, n := range resolved {
				keep[n] = true
			}
			names, err = cleaner.Unused(keep)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				info("No unused checkouts.")
				return nil
			}
		}

		removed, err := cleaner.Clean(names, cleanBuildOnly)
		for _, p := range removed {
			detail("removed %s", p)
		}
		if err != nil {
			return err
		}
		info("Removed %d path(s).", len(removed))
		return nil
	},
}

// resolvedDepNames converges the graph and returns every dependency
// name in discovery order.
func resolvedDepNames(cmd *cobra.Command) ([]string, error) {
	project, err := loadProject()
	if err != nil {
		return nil, err
	}
	root, err := projectRoot()
	if err != nil {
		return nil, err
	}
	s := loadSettings()

	r, err := newResolver(cmd.Context(), s, root)
	if err != nil {
		return nil, err
	}
	res := r.Resolve(cmd.Context(), project, root)
	if err := res.Err(); err != nil {
		return nil, err
	}

	names := make([]string, len(res.Deps))
	for i, d := range res.Deps {
		names[i] = d.Name
	}
	return names, nil
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "clean every dependency")
	cleanCmd.Flags().BoolVar(&cleanUnused, "unused", false, "clean checkouts no dependency uses")
	cleanCmd.Flags().BoolVar(&cleanBuildOnly, "build", false, "remove build artifacts only, keep checkouts")
	cleanCmd.Flags().BoolVar(&cleanCache, "cache", false, "empty the shared package cache")
	rootCmd.AddCommand(cleanCmd)
}
