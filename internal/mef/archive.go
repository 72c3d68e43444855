// Package mef reads Metadata Exchange Format (MEF) archives: the zip bundles
// produced by the catalogue's formatter endpoint. An archive holds one record
// under a single top-level directory, with an info.xml manifest describing
// the record's identity, ownership and access-control privileges, and the
// record payload at metadata/metadata.xml.
//
// The manifest is authoritative. Filenames are sanitised on export and may
// not round-trip to the record UUID, so restore always derives the UUID from
// info.xml rather than trusting the file on disk.
package mef

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	// ErrNoManifest is returned when the archive has no info.xml.
	ErrNoManifest = errors.New("mef: archive has no info.xml manifest")
	// ErrNoPayload is returned when the archive has no metadata.xml.
	ErrNoPayload = errors.New("mef: archive has no metadata payload")
	// ErrUUIDMismatch is returned when the manifest UUID does not match the
	// UUID the archive was requested for.
	ErrUUIDMismatch = errors.New("mef: manifest uuid does not match requested uuid")
)

// Operation names the catalogue recognises on a sharing privilege.
var Operations = []string{"view", "download", "dynamic", "featured", "notify", "editing"}

// GroupPrivileges is the set of operations a manifest declares for one group,
// keyed by group name (IDs differ between catalogue instances).
type GroupPrivileges struct {
	Group      string
	Operations []string
}

// Manifest is the parsed info.xml of a MEF archive.
type Manifest struct {
	UUID string
	// Owner and GroupOwner are only present in archives written by newer
	// catalogue versions. OwnerID is the owning user ID; GroupOwner is the
	// owning group name. HasOwnership reports whether both were declared.
	OwnerID    int
	GroupOwner string
	Privileges []GroupPrivileges

	hasOwnership bool
}

// HasOwnership reports whether the manifest declares ownership.
func (m *Manifest) HasOwnership() bool { return m.hasOwnership }

// Archive is an opened MEF archive.
type Archive struct {
	Manifest *Manifest

	dir string
	zr  *zip.Reader
}

// infoXML mirrors the manifest document structure.
type infoXML struct {
	XMLName xml.Name `xml:"info"`
	General struct {
		UUID       string `xml:"uuid"`
		Owner      string `xml:"owner"`
		GroupOwner string `xml:"groupOwner"`
	} `xml:"general"`
	Privileges struct {
		Groups []struct {
			Name       string `xml:"name,attr"`
			Operations []struct {
				Name string `xml:"name,attr"`
			} `xml:"operation"`
		} `xml:"group"`
	} `xml:"privileges"`
}

// Open reads a MEF archive from r. The manifest is parsed eagerly so that a
// malformed archive fails before any destructive operation starts.
func Open(r io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("mef: opening archive: %w", err)
	}

	dir, f := findManifest(zr)
	if f == nil {
		return nil, ErrNoManifest
	}

	m, err := parseManifest(f)
	if err != nil {
		return nil, err
	}

	return &Archive{Manifest: m, dir: dir, zr: zr}, nil
}

// Payload returns the raw record XML from metadata/metadata.xml.
func (a *Archive) Payload() ([]byte, error) {
	want := path.Join(a.dir, "metadata", "metadata.xml")
	for _, f := range a.zr.File {
		if f.Name == want {
			return readAll(f)
		}
	}
	return nil, ErrNoPayload
}

// findManifest locates the top-level <dir>/info.xml entry.
func findManifest(zr *zip.Reader) (dir string, f *zip.File) {
	for _, candidate := range zr.File {
		parts := strings.Split(candidate.Name, "/")
		if len(parts) == 2 && parts[1] == "info.xml" {
			return parts[0], candidate
		}
	}
	return "", nil
}

func parseManifest(f *zip.File) (*Manifest, error) {
	data, err := readAll(f)
	if err != nil {
		return nil, err
	}

	var doc infoXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("mef: parsing info.xml: %w", err)
	}
	if doc.General.UUID == "" {
		return nil, fmt.Errorf("mef: info.xml declares no uuid")
	}

	m := &Manifest{UUID: doc.General.UUID}

	if doc.General.Owner != "" && doc.General.GroupOwner != "" {
		if _, err := fmt.Sscanf(doc.General.Owner, "%d", &m.OwnerID); err != nil {
			return nil, fmt.Errorf("mef: info.xml owner %q is not numeric", doc.General.Owner)
		}
		m.GroupOwner = doc.General.GroupOwner
		m.hasOwnership = true
	}

	for _, g := range doc.Privileges.Groups {
		gp := GroupPrivileges{Group: g.Name}
		for _, op := range g.Operations {
			gp.Operations = append(gp.Operations, op.Name)
		}
		m.Privileges = append(m.Privileges, gp)
	}

	return m, nil
}

func readAll(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("mef: opening %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("mef: reading %s: %w", f.Name, err)
	}
	return data, nil
}

// unsafe lists characters substituted in archive filenames. Colons and
// quotes appear in harvested UUIDs; slashes would escape the backup
// directory.
var unsafe = strings.NewReplacer(
	":", "_",
	"/", "_",
	`\`, "_",
	"'", "_",
	`"`, "_",
)

// SafeFilename derives a filesystem-safe archive name from a record UUID.
// The mapping is lossy; the manifest inside the archive carries the real
// UUID.
func SafeFilename(uuid string) string {
	return unsafe.Replace(uuid) + ".zip"
}
