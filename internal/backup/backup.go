// Package backup pulls a catalogue environment's administrative state onto
// local disk: every non-harvested record as a MEF archive, the user and
// group registries as JSON plus CSV summaries, the reusable objects as
// XML sorted by kind, and the harvester settings as JSON.
//
// Design: a backup is a batch of independent items. One record failing to
// export must not stop the remaining thousands, so every item failure is
// counted, audited and skipped; only environment-level failures (cannot
// list users at all, cannot create the target directory) abort a section.
package backup

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/geocat-ops/geocatctl/internal/auditlog"
	"github.com/geocat-ops/geocatctl/internal/database"
	"github.com/geocat-ops/geocatctl/internal/geocat"
	"github.com/geocat-ops/geocatctl/internal/mef"
	"github.com/geocat-ops/geocatctl/internal/subtemplate"
)

// ErrNotAdmin is returned when the session user is not a catalogue
// administrator. Backups read the full registries; anything less than
// admin produces a silently incomplete copy.
var ErrNotAdmin = errors.New("backup: session user is not an administrator")

// Options selects the sections of a run.
type Options struct {
	Dir string // target directory, created if missing

	Metadata     bool
	Users        bool
	Groups       bool
	Subtemplates bool
	Harvesters   bool
}

// Sections returns the enabled section names in run order.
func (o Options) Sections() []string {
	var s []string
	if o.Metadata {
		s = append(s, "metadata")
	}
	if o.Users {
		s = append(s, "users")
	}
	if o.Groups {
		s = append(s, "groups")
	}
	if o.Subtemplates {
		s = append(s, "subtemplates")
	}
	if o.Harvesters {
		s = append(s, "harvesters")
	}
	return s
}

// SectionReport counts one section's outcomes.
type SectionReport struct {
	Written int `json:"written"`
	Failed  int `json:"failed"`
}

// Report describes one backup run.
type Report struct {
	RunID    string                   `json:"run_id"`
	Started  time.Time                `json:"started"`
	Finished time.Time                `json:"finished"`
	Sections map[string]SectionReport `json:"sections"`
}

// Failed returns the total failure count across sections.
func (r *Report) Failed() int {
	var n int
	for _, s := range r.Sections {
		n += s.Failed
	}
	return n
}

// Runner executes backup runs over an admin session.
type Runner struct {
	client *geocat.Client
	db     *database.DB

	// Notify, when non-nil, fires once per item with the item's outcome.
	Notify func(section, item string, err error)
}

// NewRunner wires a runner. db may be nil when the subtemplates section is
// not used.
func NewRunner(client *geocat.Client, db *database.DB) *Runner {
	return &Runner{client: client, db: db}
}

// Run executes the selected sections and writes report.json plus a plain
// summary log into the target directory.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	admin, err := r.client.CheckAdmin(ctx)
	if err != nil {
		return nil, fmt.Errorf("backup: checking profile: %w", err)
	}
	if !admin {
		return nil, ErrNotAdmin
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: creating %s: %w", opts.Dir, err)
	}

	report := &Report{
		RunID:    uuid.NewString(),
		Started:  time.Now(),
		Sections: map[string]SectionReport{},
	}

	for _, section := range opts.Sections() {
		var sr SectionReport
		var err error
		switch section {
		case "metadata":
			sr, err = r.backupMetadata(ctx, opts.Dir, report.RunID)
		case "users":
			sr, err = r.backupUsers(ctx, opts.Dir, report.RunID)
		case "groups":
			sr, err = r.backupGroups(ctx, opts.Dir, report.RunID)
		case "subtemplates":
			sr, err = r.backupSubtemplates(ctx, opts.Dir, report.RunID)
		case "harvesters":
			sr, err = r.backupHarvesters(ctx, opts.Dir, report.RunID)
		}
		if err != nil {
			return nil, fmt.Errorf("backup: section %s: %w", section, err)
		}
		report.Sections[section] = sr
	}

	report.Finished = time.Now()
	if err := writeReport(opts.Dir, report); err != nil {
		return nil, err
	}
	return report, nil
}

func (r *Runner) notify(section, item string, err error) {
	if r.Notify != nil {
		r.Notify(section, item, err)
	}
}

// backupMetadata exports every non-harvested record and template as a MEF
// archive named after its sanitised UUID.
func (r *Runner) backupMetadata(ctx context.Context, dir, runID string) (SectionReport, error) {
	var sr SectionReport

	uuids, err := r.client.SearchUUIDs(ctx, geocat.BuildQuery(geocat.SearchOptions{
		NoHarvested:   true,
		WithTemplates: true,
	}))
	if err != nil {
		return sr, err
	}

	target := filepath.Join(dir, "metadata")
	if err := os.MkdirAll(target, 0o755); err != nil {
		return sr, err
	}

	for _, id := range uuids {
		err := r.exportOne(ctx, target, id)
		auditlog.Event("backup:metadata", "export").
			Environment(r.client.Environment().BaseURL).
			UUID(id).Run(runID).Write(err)
		r.notify("metadata", id, err)
		if err != nil {
			sr.Failed++
			continue
		}
		sr.Written++
	}
	return sr, nil
}

func (r *Runner) exportOne(ctx context.Context, dir, id string) error {
	data, err := r.client.ExportMEF(ctx, id, false)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, mef.SafeFilename(id)), data, 0o644)
}

// backupUsers writes users.json, one groups file per user, and a CSV
// joining users with their memberships.
func (r *Runner) backupUsers(ctx context.Context, dir, runID string) (SectionReport, error) {
	var sr SectionReport

	users, raw, err := r.client.Users(ctx)
	if err != nil {
		return sr, err
	}

	target := filepath.Join(dir, "users")
	if err := os.MkdirAll(target, 0o755); err != nil {
		return sr, err
	}
	if err := os.WriteFile(filepath.Join(dir, "users.json"), raw, 0o644); err != nil {
		return sr, err
	}

	rows := [][]string{{"id", "username", "profile", "enabled", "groups"}}
	for _, u := range users {
		memberships, rawGroups, err := r.client.UserGroups(ctx, u.ID)
		auditlog.Event("backup:users", "export").
			Environment(r.client.Environment().BaseURL).
			Detail("user", u.Username).Run(runID).Write(err)
		r.notify("users", u.Username, err)
		if err != nil {
			sr.Failed++
			continue
		}

		if err := os.WriteFile(filepath.Join(target, u.Username+".json"), rawGroups, 0o644); err != nil {
			sr.Failed++
			continue
		}

		names := make([]string, 0, len(memberships))
		for _, m := range memberships {
			names = append(names, m.Group.Name)
		}
		sort.Strings(names)
		rows = append(rows, []string{
			strconv.Itoa(u.ID), u.Username, u.Profile,
			strconv.FormatBool(u.Enabled), strings.Join(names, ";"),
		})
		sr.Written++
	}

	if err := writeCSV(filepath.Join(dir, "users_with_groups.csv"), rows); err != nil {
		return sr, err
	}
	return sr, nil
}

// backupGroups writes groups.json, one member listing per group, the group
// logos, and a CSV summary.
func (r *Runner) backupGroups(ctx context.Context, dir, runID string) (SectionReport, error) {
	var sr SectionReport

	// Reserved groups (intranet, guest, all) are part of the copy.
	groups, raw, err := r.client.Groups(ctx, true)
	if err != nil {
		return sr, err
	}

	target := filepath.Join(dir, "groups")
	logos := filepath.Join(dir, "logos")
	for _, d := range []string{target, logos} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return sr, err
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "groups.json"), raw, 0o644); err != nil {
		return sr, err
	}

	rows := [][]string{{"id", "name", "logo"}}
	for _, g := range groups {
		err := r.exportGroup(ctx, target, logos, g)
		auditlog.Event("backup:groups", "export").
			Environment(r.client.Environment().BaseURL).
			Detail("group", g.Name).Run(runID).Write(err)
		r.notify("groups", g.Name, err)
		if err != nil {
			sr.Failed++
			continue
		}
		rows = append(rows, []string{strconv.Itoa(g.ID), g.Name, g.Logo})
		sr.Written++
	}

	if err := writeCSV(filepath.Join(dir, "groups.csv"), rows); err != nil {
		return sr, err
	}
	return sr, nil
}

func (r *Runner) exportGroup(ctx context.Context, target, logos string, g geocat.Group) error {
	members, err := r.client.GroupUsers(ctx, g.ID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(target, g.Name+".json"), members, 0o644); err != nil {
		return err
	}

	if g.Logo == "" {
		return nil
	}
	logo, err := r.client.GroupLogo(ctx, g.ID)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(logos, g.Name+filepath.Ext(g.Logo)), logo, 0o644)
}

// backupSubtemplates exports every reusable object as XML via the registry
// endpoint, in all the languages the object declares, sorted into one
// directory per kind.
func (r *Runner) backupSubtemplates(ctx context.Context, dir, runID string) (SectionReport, error) {
	var sr SectionReport

	if r.db == nil {
		return sr, errors.New("no database connection")
	}
	uuids, err := r.db.SubtemplateUUIDs(ctx, database.SubtemplateFilter{})
	if err != nil {
		return sr, err
	}

	target := filepath.Join(dir, "subtemplates")
	for _, id := range uuids {
		err := r.exportSubtemplate(ctx, target, id)
		auditlog.Event("backup:subtemplates", "export").
			Environment(r.client.Environment().BaseURL).
			UUID(id).Run(runID).Write(err)
		r.notify("subtemplates", id, err)
		if err != nil {
			sr.Failed++
			continue
		}
		sr.Written++
	}
	return sr, nil
}

func (r *Runner) exportSubtemplate(ctx context.Context, target, id string) error {
	payload, err := r.client.ExportXML(ctx, id)
	if err != nil {
		return err
	}

	langs, err := geocat.MetadataLanguages(payload)
	if err != nil {
		return err
	}
	entry, err := r.client.RegistryEntry(ctx, id, strings.Join(append([]string{langs.Main}, langs.Additional...), ","))
	if err != nil {
		return err
	}

	kindDir := filepath.Join(target, string(subtemplate.Classify(payload)))
	if err := os.MkdirAll(kindDir, 0o755); err != nil {
		return err
	}
	name := strings.TrimSuffix(mef.SafeFilename(id), ".zip") + ".xml"
	return os.WriteFile(filepath.Join(kindDir, name), entry, 0o644)
}

// backupHarvesters dumps the harvester configuration tree as JSON.
func (r *Runner) backupHarvesters(ctx context.Context, dir, runID string) (SectionReport, error) {
	var sr SectionReport

	if r.db == nil {
		return sr, errors.New("no database connection")
	}
	settings, err := r.db.HarvesterSettings(ctx)
	if err != nil {
		return sr, err
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return sr, err
	}
	err = os.WriteFile(filepath.Join(dir, "harvester_settings.json"), data, 0o644)
	auditlog.Event("backup:harvesters", "export").
		Environment(r.client.Environment().BaseURL).
		Detail("settings", len(settings)).Run(runID).Write(err)
	r.notify("harvesters", "harvester_settings.json", err)
	if err != nil {
		sr.Failed++
		return sr, nil
	}
	sr.Written++
	return sr, nil
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeReport drops report.json and a human-readable summary next to the
// backed-up data.
func writeReport(dir string, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("backup: encoding report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.json"), data, 0o644); err != nil {
		return fmt.Errorf("backup: writing report: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "backup run %s\n", report.RunID)
	fmt.Fprintf(&b, "started  %s\n", report.Started.Format(time.RFC3339))
	fmt.Fprintf(&b, "finished %s\n", report.Finished.Format(time.RFC3339))

	sections := make([]string, 0, len(report.Sections))
	for name := range report.Sections {
		sections = append(sections, name)
	}
	sort.Strings(sections)
	for _, name := range sections {
		s := report.Sections[name]
		fmt.Fprintf(&b, "%-13s %d written, %d failed\n", name, s.Written, s.Failed)
	}

	if err := os.WriteFile(filepath.Join(dir, "summary.log"), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("backup: writing summary: %w", err)
	}
	return nil
}
