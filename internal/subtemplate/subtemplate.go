// Package subtemplate finds, classifies and retires the catalogue's
// reusable objects (contacts, extents, formats).
//
// Unused detection cross-checks two sources: the subtemplate listing comes
// from the database, and so does the reference count, because references
// live inside stored XML documents that the search index does not expose.
// The API is only needed afterwards, to export or delete the survivors.
package subtemplate

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/geocat-ops/geocatctl/internal/database"
	"github.com/geocat-ops/geocatctl/internal/geocat"
)

// Kind classifies a reusable object by its root element.
type Kind string

const (
	KindContact Kind = "contact"
	KindExtent  Kind = "extent"
	KindFormat  Kind = "format"
	KindUnknown Kind = "unknown"
)

// rootPrefixes maps the payload's leading element to a kind.
var rootPrefixes = []struct {
	prefix []byte
	kind   Kind
}{
	{[]byte("<che:CHE_CI_ResponsibleParty"), KindContact},
	{[]byte("<gmd:EX_Extent"), KindExtent},
	{[]byte("<gmd:MD_Format"), KindFormat},
}

// Classify inspects a subtemplate's XML payload and names its kind.
func Classify(payload []byte) Kind {
	trimmed := bytes.TrimSpace(payload)
	// Skip a leading XML declaration if present.
	if bytes.HasPrefix(trimmed, []byte("<?xml")) {
		if end := bytes.IndexByte(trimmed, '>'); end >= 0 {
			trimmed = bytes.TrimSpace(trimmed[end+1:])
		}
	}
	for _, rp := range rootPrefixes {
		if bytes.HasPrefix(trimmed, rp.prefix) {
			return rp.kind
		}
	}
	return KindUnknown
}

// Candidate is one subtemplate the detector examined.
type Candidate struct {
	UUID       string
	References int
	Protected  bool
}

// Unused reports whether the candidate can be retired.
func (c Candidate) Unused() bool {
	return c.References == 0 && !c.Protected
}

// Detector finds unused subtemplates.
type Detector struct {
	db *database.DB
	// OlderThan restricts the candidates to subtemplates last changed
	// before the window; zero makes every subtemplate a candidate. The
	// reference scan is never restricted: a referenced subtemplate stays
	// in use whatever its age.
	OlderThan time.Duration
}

// NewDetector wires a detector over an open database handle.
func NewDetector(db *database.DB) *Detector {
	return &Detector{db: db}
}

// Scan examines every subtemplate and returns one candidate per UUID,
// in listing order. The progress callback, when non-nil, is invoked once
// per examined UUID.
func (d *Detector) Scan(ctx context.Context, progress func()) ([]Candidate, error) {
	var filter database.SubtemplateFilter
	if d.OlderThan > 0 {
		filter.ChangedBefore = time.Now().Add(-d.OlderThan)
	}
	uuids, err := d.db.SubtemplateUUIDs(ctx, filter)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(uuids))
	for _, uuid := range uuids {
		n, err := d.db.ReferenceCount(ctx, uuid)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, Candidate{
			UUID:       uuid,
			References: n,
			Protected:  database.Protected(uuid),
		})
		if progress != nil {
			progress()
		}
	}
	return candidates, nil
}

// UnusedOnly filters a scan down to the retirable candidates.
func UnusedOnly(candidates []Candidate) []Candidate {
	var out []Candidate
	for _, c := range candidates {
		if c.Unused() {
			out = append(out, c)
		}
	}
	return out
}

// Replace rewires every record that references the old subtemplate onto the
// new one, record by record, without bumping change dates. It returns the
// records it rewrote.
func Replace(ctx context.Context, client *geocat.Client, db *database.DB, oldUUID, newUUID string) ([]string, error) {
	if oldUUID == newUUID {
		return nil, fmt.Errorf("subtemplate: old and new UUID are identical")
	}

	referencing, err := db.RecordsReferencing(ctx, oldUUID)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, record := range referencing {
		if err := client.SearchAndReplace(ctx, record, oldUUID, newUUID); err != nil {
			return done, fmt.Errorf("subtemplate: rewiring %s: %w", record, err)
		}
		done = append(done, record)
	}
	return done, nil
}

// PruneItem is one subtemplate moving through the prune pipeline.
type PruneItem struct {
	UUID   string
	Kind   Kind
	Backup []byte // XML snapshot taken before deletion
	Err    error
}

// Snapshot exports and classifies each candidate without deleting
// anything, so callers can group by kind and confirm before the
// destructive step. A failed export marks the item; Delete will skip it.
func Snapshot(ctx context.Context, client *geocat.Client, candidates []Candidate) []PruneItem {
	items := make([]PruneItem, 0, len(candidates))
	for _, c := range candidates {
		item := PruneItem{UUID: c.UUID}

		payload, err := client.ExportXML(ctx, c.UUID)
		if err != nil {
			item.Err = fmt.Errorf("snapshot of %s: %w", c.UUID, err)
		} else {
			item.Backup = payload
			item.Kind = Classify(payload)
		}
		items = append(items, item)
	}
	return items
}

// ByKind groups snapshot items by kind, failed items excluded.
func ByKind(items []PruneItem) map[Kind][]PruneItem {
	grouped := make(map[Kind][]PruneItem)
	for _, item := range items {
		if item.Err != nil {
			continue
		}
		grouped[item.Kind] = append(grouped[item.Kind], item)
	}
	return grouped
}

// Delete removes the snapshotted items from the catalogue. Items that
// carry an error from the snapshot phase are never deleted: no subtemplate
// is dropped without a local copy. Failures are per-item; the batch always
// runs to the end.
func Delete(ctx context.Context, client *geocat.Client, items []PruneItem) []PruneItem {
	out := make([]PruneItem, 0, len(items))
	for _, item := range items {
		if item.Err == nil {
			if err := client.DeleteRecord(ctx, item.UUID); err != nil {
				item.Err = fmt.Errorf("delete of %s: %w", item.UUID, err)
			}
		}
		out = append(out, item)
	}
	return out
}

// Prune snapshots and immediately deletes each unused candidate.
func Prune(ctx context.Context, client *geocat.Client, candidates []Candidate) []PruneItem {
	return Delete(ctx, client, Snapshot(ctx, client, candidates))
}
