package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xiaoqinglee/mason/internal/lock"
)

var (
	unlockAll         bool
	unlockUnused      bool
	unlockCheckUnused bool
)

var unlockCmd = &cobra.Command{
	Use:   "unlock [dep...]",
	Short: "Remove entries from the lockfile",
	Long: `Removes the named entries from the lockfile, so the next fetch
re-resolves them from scratch. --unused drops entries no longer reachable
from the manifest; --check-unused only reports them, exiting non-zero when
any exist. Checkouts are left in place; see 'mason clean' for those.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !unlockAll && !unlockUnused && !unlockCheckUnused {
			return errors.New("specify the dependencies to unlock, or one of --all, --unused, --check-unused")
		}

		m, err := loadLock(cmd.Context())
		if err != nil {
			return err
		}

		switch {
		case unlockCheckUnused:
			unused, err := unusedLockEntries(cmd, m)
			if err != nil {
				return err
			}
			for _, name := range unused {
				info("%s", name)
			}
			if len(unused) > 0 {
				return fmt.Errorf("%d unused entry(s) in %s", len(unused), lockfilePath)
			}
			info("No unused entries in %s.", lockfilePath)
			return nil

		case unlockUnused:
			unused, err := unusedLockEntries(cmd, m)
			if err != nil {
				return err
			}
			if len(unused) == 0 {
				info("No unused entries in %s.", lockfilePath)
				return nil
			}
			for _, name := range unused {
				delete(m, name)
				info("Unlocked %s", name)
			}

		case unlockAll:
			for _, name := range m.Names() {
				info("Unlocked %s", name)
			}
			m = lock.Map{}

		default:
			for _, name := range args {
				if _, ok := m[name]; !ok {
					printWarning("%s is not locked", name)
					continue
				}
				delete(m, name)
				info("Unlocked %s", name)
			}
		}

		return lock.Write(lockfilePath, m)
	},
}

// unusedLockEntries converges the graph and returns the locked names no
// dependency claims anymore.
func unusedLockEntries(cmd *cobra.Command, m lock.Map) ([]string, error) {
	names, err := resolvedDepNames(cmd)
	if err != nil {
		return nil, err
	}
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	return lock.Unused(m, keep), nil
}

func init() {
	unlockCmd.Flags().BoolVar(&unlockAll, "all", false, "unlock every dependency")
	unlockCmd.Flags().BoolVar(&unlockUnused, "unused", false, "unlock entries no dependency uses")
	unlockCmd.Flags().BoolVar(&unlockCheckUnused, "check-unused", false, "fail if unused entries exist, without writing")
	rootCmd.AddCommand(unlockCmd)
}
