// subtemplate.go implements the "geocatctl subtemplate" command group:
// scanning for unused reusable objects, rewiring references from one object
// to another, and pruning the unused ones with a local snapshot first.

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/geocat-ops/geocatctl/internal/auditlog"
	"github.com/geocat-ops/geocatctl/internal/mef"
	"github.com/geocat-ops/geocatctl/internal/subtemplate"
)

var subtemplateCmd = &cobra.Command{
	Use:   "subtemplate",
	Short: "Manage reusable objects (contacts, extents, formats)",
}

// monthsToWindow converts the --older-than flag to a duration.
func monthsToWindow(months int) time.Duration {
	return time.Duration(months) * 30 * 24 * time.Hour
}

var scanOpts struct {
	olderThan int
	all       bool
}

var subtemplateScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List subtemplates that no record references",
	Long: `Counts, for every subtemplate, the records whose stored XML references
it. Objects with zero references are reported as unused; extents from the
maintained national geodata set are never reported.

  geocatctl subtemplate scan --older-than 12
  geocatctl subtemplate scan --all   # include referenced objects in the listing`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		detector := subtemplate.NewDetector(db)
		detector.OlderThan = monthsToWindow(scanOpts.olderThan)

		scan, err := detector.Scan(cmd.Context(), nil)
		if err != nil {
			return err
		}

		for _, c := range scan {
			switch {
			case c.Unused():
				status().Warnf("%s  unused", c.UUID)
			case scanOpts.all && c.Protected:
				status().Printf("%s  protected\n", c.UUID)
			case scanOpts.all:
				status().Printf("%s  %d references\n", c.UUID, c.References)
			}
		}
		status().Printf("%d scanned, %d unused\n", len(scan), len(subtemplate.UnusedOnly(scan)))
		return nil
	},
}

var subtemplateReplaceCmd = &cobra.Command{
	Use:   "replace <old-uuid> <new-uuid>",
	Short: "Rewire every record from one subtemplate onto another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		client, err := newSession(cmd.Context())
		if err != nil {
			return err
		}

		done, err := subtemplate.Replace(cmd.Context(), client, db, args[0], args[1])
		for _, record := range done {
			status().Successf("✓ %s", record)
		}
		auditlog.Event("subtemplate:replace", "search-and-replace").
			Environment(client.Environment().BaseURL).
			UUID(args[0]).
			Detail("replacement", args[1]).
			Detail("records", len(done)).
			Write(err)
		if err != nil {
			return err
		}
		status().Printf("%d records rewired\n", len(done))
		return nil
	},
}

var pruneOpts struct {
	olderThan int
	noBackup  bool
	backupDir string
	yes       bool
}

var subtemplatePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete unused subtemplates, snapshotting them first",
	Long: `Scans for unused subtemplates, asks for confirmation per kind, takes an
XML snapshot of each object and deletes it. An object whose snapshot fails
is never deleted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		client, err := newSession(cmd.Context())
		if err != nil {
			return err
		}

		detector := subtemplate.NewDetector(db)
		detector.OlderThan = monthsToWindow(pruneOpts.olderThan)
		scan, err := detector.Scan(cmd.Context(), nil)
		if err != nil {
			return err
		}
		unused := subtemplate.UnusedOnly(scan)
		if len(unused) == 0 {
			status().Printf("nothing to prune\n")
			return nil
		}

		snapshots := subtemplate.Snapshot(cmd.Context(), client, unused)
		grouped := subtemplate.ByKind(snapshots)

		// Confirmation is per kind: deleting fifty stale formats is routine,
		// deleting fifty contacts deserves its own look.
		var toDelete []subtemplate.PruneItem
		for _, kind := range []subtemplate.Kind{
			subtemplate.KindContact, subtemplate.KindExtent,
			subtemplate.KindFormat, subtemplate.KindUnknown,
		} {
			items := grouped[kind]
			if len(items) == 0 {
				continue
			}
			status().Warnf("%d unused %s subtemplates will be deleted from %s", len(items), kind, envName)
			if !pruneOpts.yes {
				ok, err := confirm("continue?")
				if err != nil {
					return err
				}
				if !ok {
					status().Printf("skipping %s\n", kind)
					continue
				}
			}
			toDelete = append(toDelete, items...)
		}

		items := subtemplate.Delete(cmd.Context(), client, toDelete)

		// Items whose snapshot failed never reach the delete phase but
		// still count as failures.
		for _, s := range snapshots {
			if s.Err != nil {
				items = append(items, s)
			}
		}

		var failed int
		for _, item := range items {
			auditlog.Event("subtemplate:prune", "delete").
				Environment(client.Environment().BaseURL).
				UUID(item.UUID).
				Detail("kind", string(item.Kind)).
				Write(item.Err)

			if item.Err != nil {
				failed++
				status().Failf("✗ %s: %v", item.UUID, item.Err)
				continue
			}
			if !pruneOpts.noBackup {
				if err := writeSnapshot(pruneOpts.backupDir, item); err != nil {
					status().Warnf("snapshot of %s not written: %v", item.UUID, err)
				}
			}
			status().Successf("✓ %s (%s)", item.UUID, item.Kind)
		}

		status().Printf("%d deleted, %d failed\n", len(items)-failed, failed)
		if failed > 0 {
			return fmt.Errorf("prune finished with %d failures", failed)
		}
		return nil
	},
}

func writeSnapshot(dir string, item subtemplate.PruneItem) error {
	kindDir := filepath.Join(dir, string(item.Kind))
	if err := os.MkdirAll(kindDir, 0o755); err != nil {
		return err
	}
	name := strings.TrimSuffix(mef.SafeFilename(item.UUID), ".zip") + ".xml"
	return os.WriteFile(filepath.Join(kindDir, name), item.Backup, 0o644)
}

func init() {
	subtemplateScanCmd.Flags().IntVar(&scanOpts.olderThan, "older-than", 0,
		"only consider subtemplates last changed more than N months ago")
	subtemplateScanCmd.Flags().BoolVar(&scanOpts.all, "all", false,
		"list referenced and protected objects as well")

	f := subtemplatePruneCmd.Flags()
	f.IntVar(&pruneOpts.olderThan, "older-than", 0,
		"only consider subtemplates last changed more than N months ago")
	f.BoolVar(&pruneOpts.noBackup, "no-backup", false, "skip the XML snapshots")
	f.StringVar(&pruneOpts.backupDir, "backup-dir", "pruned-subtemplates", "snapshot directory")
	f.BoolVar(&pruneOpts.yes, "yes", false, "skip the confirmation prompt")

	subtemplateCmd.AddCommand(subtemplateScanCmd, subtemplateReplaceCmd, subtemplatePruneCmd)
	rootCmd.AddCommand(subtemplateCmd)
}
