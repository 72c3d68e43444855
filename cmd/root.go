// root.go defines the root command and CLI execution entry point.
//
// Design: PersistentPreRunE loads the configuration and resolves the target
// environment before any subcommand runs; commands that never touch a
// catalogue (guide, env, completion) are listed in noSessionCommands and
// skip the resolution. Production targets print a red warning up front;
// every destructive command in this tool is a batch command, and the wrong
// environment is the classic way to ruin a morning.

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/geocat-ops/geocatctl/internal/auditlog"
)

var rootCmd = &cobra.Command{
	Use:   "geocatctl",
	Short: "Administration tool for the geocat.ch metadata catalogue",
	Long: `geocatctl automates the recurring operations of the geocat.ch catalogue
team: full environment backups, restores with ownership and permission
reconciliation, deep record searches and subtemplate housekeeping.`,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if noSessionCommands[topLevelCmdName(cmd)] {
			return nil
		}
		if err := loadConfig(); err != nil {
			return err
		}

		env, err := cfg.Environment(envName)
		if err != nil {
			return err
		}
		if env.Production {
			status().Failf("WARNING: targeting the production environment %s (%s)", env.Name, env.BaseURL)
		}
		return nil
	},
}

// noSessionCommands never resolve an environment or open a session.
var noSessionCommands = map[string]bool{
	"guide":      true,
	"env":        true,
	"help":       true,
	"completion": true,
}

// topLevelCmdName returns the name of the top-level command (direct child
// of root). For "geocatctl subtemplate prune", returns "subtemplate".
func topLevelCmdName(cmd *cobra.Command) string {
	for cmd.HasParent() && cmd.Parent().HasParent() {
		cmd = cmd.Parent()
	}
	return cmd.Name()
}

// Execute runs the root command and handles process lifecycle. The audit
// log is opened best-effort: an unavailable log warns but never blocks.
func Execute() {
	if err := auditlog.Open(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: audit log unavailable: %v\n", err)
	}
	defer auditlog.Close()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// RootCmd returns the root command for testing.
func RootCmd() *cobra.Command {
	return rootCmd
}
