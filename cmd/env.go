// env.go implements the "geocatctl env" command: listing the configured
// environments without opening any session.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "List the configured environments",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := loadConfig(); err != nil {
			return err
		}

		for _, name := range cfg.EnvironmentNames() {
			env := cfg.Environments[name]
			marker := " "
			if name == envName {
				marker = "*"
			}
			suffix := ""
			if env.Production {
				suffix = " (production)"
			}
			fmt.Fprintf(out, "%s %-8s %s%s\n", marker, name, env.BaseURL, suffix)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(envCmd)
}
