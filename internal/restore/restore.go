// Package restore replays MEF backup archives into the catalogue and
// reconciles ownership and permissions afterwards.
//
// Design: the upload endpoint overwrites the record payload but the access
// state the record ends up with is not the access state the archive
// describes. Each record therefore goes through a strict sequence (capture
// ownership, overwrite, validate, reapply privileges, reapply ownership)
// and any step failing abandons that record without touching the next one.
package restore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/geocat-ops/geocatctl/internal/diff"
	"github.com/geocat-ops/geocatctl/internal/geocat"
	"github.com/geocat-ops/geocatctl/internal/mef"
)

// OwnershipPolicy selects where a restored record's owner and owning group
// come from.
type OwnershipPolicy string

const (
	// PolicyLive captures the record's current ownership before the
	// overwrite and reapplies it afterwards. The default: archives moved
	// between catalogue instances rarely carry portable user IDs.
	PolicyLive OwnershipPolicy = "live"
	// PolicyManifest takes ownership from the archive's info.xml. Records
	// whose manifest declares no ownership fail.
	PolicyManifest OwnershipPolicy = "manifest"
)

// ParsePolicy validates a policy flag value.
func ParsePolicy(s string) (OwnershipPolicy, error) {
	switch OwnershipPolicy(s) {
	case PolicyLive, PolicyManifest:
		return OwnershipPolicy(s), nil
	}
	return "", fmt.Errorf("restore: unknown ownership policy %q (want live or manifest)", s)
}

// Reconciler restores archives over an authenticated session.
type Reconciler struct {
	client *geocat.Client
	policy OwnershipPolicy

	// ShowDiff renders a unified diff of the live record against the
	// archive payload before the overwrite.
	ShowDiff bool

	groups []geocat.Group
}

// New builds a reconciler. The live group listing is fetched once, up
// front: group-name resolution must not observe groups created mid-run.
func New(ctx context.Context, client *geocat.Client, policy OwnershipPolicy) (*Reconciler, error) {
	if !client.Authenticated() {
		return nil, geocat.ErrNotAuthenticated
	}
	groups, _, err := client.Groups(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("restore: listing groups: %w", err)
	}
	return &Reconciler{client: client, policy: policy, groups: groups}, nil
}

// Result is the outcome for one archive.
type Result struct {
	File string // archive path as given
	UUID string // from the manifest; empty when the archive failed to open
	Diff string // rendered preview, only with ShowDiff
	Err  error
}

// Restored reports whether the record went through every step.
func (r Result) Restored() bool { return r.Err == nil }

// Report aggregates a directory run.
type Report struct {
	Items []Result
}

// Counts returns the restored and failed totals.
func (r Report) Counts() (restored, failed int) {
	for _, item := range r.Items {
		if item.Restored() {
			restored++
		} else {
			failed++
		}
	}
	return restored, failed
}

// RestoreFile replays a single archive.
func (rc *Reconciler) RestoreFile(ctx context.Context, path string) Result {
	res := Result{File: path}

	data, err := os.ReadFile(path)
	if err != nil {
		res.Err = fmt.Errorf("reading archive: %w", err)
		return res
	}

	archive, err := mef.Open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		res.Err = err
		return res
	}
	uuid := archive.Manifest.UUID
	res.UUID = uuid

	owner, groupID, err := rc.ownership(ctx, archive.Manifest)
	if err != nil {
		res.Err = err
		return res
	}

	if rc.ShowDiff {
		res.Diff = rc.preview(ctx, uuid, archive)
	}

	if err := rc.client.UploadMEF(ctx, bytes.NewReader(data), filepath.Base(path), groupID); err != nil {
		res.Err = fmt.Errorf("upload: %w", err)
		return res
	}

	if err := rc.client.ValidateRecord(ctx, uuid); err != nil {
		res.Err = fmt.Errorf("validation: %w", err)
		return res
	}

	privs, err := rc.resolvePrivileges(archive.Manifest.Privileges)
	if err != nil {
		res.Err = err
		return res
	}
	if err := rc.client.SetSharing(ctx, uuid, true, privs); err != nil {
		res.Err = fmt.Errorf("privileges: %w", err)
		return res
	}

	if err := rc.client.SetOwnership(ctx, uuid, owner, groupID); err != nil {
		res.Err = fmt.Errorf("ownership: %w", err)
		return res
	}

	return res
}

// ownership determines the owner ID and group ID to reapply after the
// overwrite, per policy.
func (rc *Reconciler) ownership(ctx context.Context, m *mef.Manifest) (owner, groupID int, err error) {
	switch rc.policy {
	case PolicyManifest:
		if !m.HasOwnership() {
			return 0, 0, fmt.Errorf("restore: manifest of %s declares no ownership", m.UUID)
		}
		groupID, err = geocat.ResolveGroupID(rc.groups, m.GroupOwner)
		if err != nil {
			return 0, 0, err
		}
		return m.OwnerID, groupID, nil

	default: // PolicyLive
		sharing, err := rc.client.Sharing(ctx, m.UUID)
		if err != nil {
			return 0, 0, fmt.Errorf("restore: reading live ownership of %s: %w", m.UUID, err)
		}
		return sharing.Owner, sharing.GroupOwner, nil
	}
}

// resolvePrivileges flattens manifest privileges into the wire shape: every
// operation flag explicit per group, true only where the manifest declares
// it.
func (rc *Reconciler) resolvePrivileges(manifest []mef.GroupPrivileges) ([]geocat.Privilege, error) {
	privs := make([]geocat.Privilege, 0, len(manifest))
	for _, gp := range manifest {
		id, err := geocat.ResolveGroupID(rc.groups, gp.Group)
		if err != nil {
			return nil, err
		}

		ops := make(map[string]bool, len(mef.Operations))
		for _, op := range mef.Operations {
			ops[op] = false
		}
		for _, op := range gp.Operations {
			ops[op] = true
		}
		privs = append(privs, geocat.Privilege{Group: id, Operations: ops})
	}
	return privs, nil
}

// preview renders the live-versus-archive diff. Best effort: a record that
// does not exist yet, or an unreadable payload, yields a short note instead
// of failing the restore.
func (rc *Reconciler) preview(ctx context.Context, uuid string, archive *mef.Archive) string {
	payload, err := archive.Payload()
	if err != nil {
		return fmt.Sprintf("(no preview: %v)", err)
	}
	live, err := rc.client.ExportXML(ctx, uuid)
	if err != nil {
		return fmt.Sprintf("(no preview: record not readable: %v)", err)
	}
	return diff.Compute(string(live), string(payload), "live/"+uuid, "archive/"+uuid).Format(false)
}

// RestoreDir replays every .zip archive in dir, in name order. Failures
// stay with their item; the run always covers the whole directory. The
// progress callback, when non-nil, fires after each archive.
func (rc *Reconciler) RestoreDir(ctx context.Context, dir string, progress func(Result)) (*Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("restore: reading %s: %w", dir, err)
	}

	var archives []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".zip") {
			archives = append(archives, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(archives)

	report := &Report{Items: make([]Result, 0, len(archives))}
	for _, path := range archives {
		res := rc.RestoreFile(ctx, path)
		report.Items = append(report.Items, res)
		if progress != nil {
			progress(res)
		}
	}
	return report, nil
}
