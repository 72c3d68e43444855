// backup.go implements the "geocatctl backup" command: a full environment
// backup into a local directory, with per-section selection flags.

package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/geocat-ops/geocatctl/internal/backup"
	"github.com/geocat-ops/geocatctl/internal/database"
)

var backupOpts struct {
	dir          string
	metadata     bool
	users        bool
	groups       bool
	subtemplates bool
	harvesters   bool
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up an environment's records, users, groups, subtemplates and harvester settings",
	Long: `Pulls the environment's administrative state onto disk: every
non-harvested record as a MEF archive, the user and group registries as
JSON plus CSV summaries, the reusable objects as XML sorted by kind, and
the harvester settings as JSON.

With no section flags, all sections run. The session user must be a
catalogue administrator.

  geocatctl --env prod backup --dir ./backup-2024-01
  geocatctl backup --dir ./users-only --users`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts := backup.Options{
			Dir:          backupOpts.dir,
			Metadata:     backupOpts.metadata,
			Users:        backupOpts.users,
			Groups:       backupOpts.groups,
			Subtemplates: backupOpts.subtemplates,
			Harvesters:   backupOpts.harvesters,
		}
		if len(opts.Sections()) == 0 {
			opts.Metadata, opts.Users, opts.Groups = true, true, true
			opts.Subtemplates, opts.Harvesters = true, true
		}
		if opts.Dir == "" {
			opts.Dir = "geocat-backup-" + time.Now().Format("2006-01-02")
		}

		client, err := newSession(cmd.Context())
		if err != nil {
			return err
		}

		var db *database.DB
		if opts.Subtemplates || opts.Harvesters {
			db, err = openDB()
			if err != nil {
				return err
			}
			defer db.Close()
		}

		runner := backup.NewRunner(client, db)
		runner.Notify = func(section, item string, err error) {
			if err != nil {
				status().Failf("  %s: %s: %v", section, item, err)
			}
		}

		report, err := runner.Run(cmd.Context(), opts)
		if errors.Is(err, backup.ErrNotAdmin) {
			status().Failf("backup requires an administrator account")
			return err
		}
		if err != nil {
			return err
		}

		for _, section := range opts.Sections() {
			s := report.Sections[section]
			if s.Failed > 0 {
				status().Warnf("%-13s %d written, %d failed", section, s.Written, s.Failed)
			} else {
				status().Successf("%-13s %d written", section, s.Written)
			}
		}
		status().Printf("report: %s\n", filepath.Join(opts.Dir, "report.json"))
		if report.Failed() > 0 {
			return fmt.Errorf("backup finished with %d failures", report.Failed())
		}
		return nil
	},
}

func init() {
	f := backupCmd.Flags()
	f.StringVar(&backupOpts.dir, "dir", "", "target directory (default geocat-backup-<date>)")
	f.BoolVar(&backupOpts.metadata, "metadata", false, "back up metadata records")
	f.BoolVar(&backupOpts.users, "users", false, "back up users")
	f.BoolVar(&backupOpts.groups, "groups", false, "back up groups and logos")
	f.BoolVar(&backupOpts.subtemplates, "subtemplates", false, "back up reusable objects (needs database credentials)")
	f.BoolVar(&backupOpts.harvesters, "harvester-settings", false, "back up harvester settings (needs database credentials)")

	rootCmd.AddCommand(backupCmd)
}
