// records.go wraps the per-record state-changing endpoints: sharing and
// ownership, internal validation behind an edit-session lock, deletion, and
// the batch-editing processes.

package geocat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// Privilege is the flattened permission set for one group: every operation
// flag explicit, defaulting false.
type Privilege struct {
	Group      int             `json:"group"`
	Operations map[string]bool `json:"operations"`
}

// Sharing is the record-level access state: owning user, owning group and
// per-group privileges.
type Sharing struct {
	Owner      int         `json:"owner"`
	GroupOwner int         `json:"groupOwner"`
	Privileges []Privilege `json:"privileges,omitempty"`
}

// sharingUpdate is the PUT body for the sharing endpoint. Clear gives the
// call replace semantics: prior privileges, including public visibility,
// are dropped before the new ones apply.
type sharingUpdate struct {
	Clear      bool        `json:"clear"`
	Privileges []Privilege `json:"privileges"`
}

// ownershipUpdate is the PUT body for the ownership endpoint.
type ownershipUpdate struct {
	Owner      int `json:"owner"`
	GroupOwner int `json:"groupOwner"`
}

// Sharing reads a record's current access state.
func (c *Client) Sharing(ctx context.Context, uuid string) (*Sharing, error) {
	var s Sharing
	if _, err := c.getJSON(ctx, "/records/"+url.PathEscape(uuid)+"/sharing", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SetSharing replaces a record's privileges. With clear set, groups absent
// from privs lose all access, including the public. That is exactly the
// restore semantics: the manifest is the complete truth.
func (c *Client) SetSharing(ctx context.Context, uuid string, clear bool, privs []Privilege) error {
	payload, err := json.Marshal(sharingUpdate{Clear: clear, Privileges: privs})
	if err != nil {
		return fmt.Errorf("geocat: encoding sharing update: %w", err)
	}

	resp, err := c.do(ctx, request{
		method:      http.MethodPut,
		path:        "/records/" + url.PathEscape(uuid) + "/sharing",
		body:        bytes.NewReader(payload),
		accept:      "application/json",
		contentType: "application/json",
	})
	if err != nil {
		return err
	}
	defer drainClose(resp)

	if resp.StatusCode != http.StatusNoContent {
		return &StatusError{Op: "PUT sharing of " + uuid, StatusCode: resp.StatusCode}
	}
	return nil
}

// SetOwnership assigns a record's owning user and group.
func (c *Client) SetOwnership(ctx context.Context, uuid string, ownerID, groupID int) error {
	payload, err := json.Marshal(ownershipUpdate{Owner: ownerID, GroupOwner: groupID})
	if err != nil {
		return fmt.Errorf("geocat: encoding ownership update: %w", err)
	}

	resp, err := c.do(ctx, request{
		method:      http.MethodPut,
		path:        "/records/" + url.PathEscape(uuid) + "/ownership",
		body:        bytes.NewReader(payload),
		accept:      "application/json",
		contentType: "application/json",
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkProcessReport(resp, "ownership of "+uuid)
}

// ValidateRecord runs internal validation on a record. The record is locked
// by opening an edit session first; the session is closed unconditionally,
// since a validation failure must not leak the lock. Both a failed validation and
// a failed close are fatal for the record.
func (c *Client) ValidateRecord(ctx context.Context, uuid string) error {
	if err := c.openEditSession(ctx, uuid); err != nil {
		return err
	}

	validateErr := c.requestValidation(ctx, uuid)
	closeErr := c.closeEditSession(ctx, uuid)

	if validateErr != nil {
		return validateErr
	}
	return closeErr
}

func (c *Client) openEditSession(ctx context.Context, uuid string) error {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/records/" + url.PathEscape(uuid) + "/editor",
		accept: "application/xml",
	})
	if err != nil {
		return err
	}
	defer drainClose(resp)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Op: "opening edit session for " + uuid, StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) requestValidation(ctx context.Context, uuid string) error {
	resp, err := c.do(ctx, request{
		method: http.MethodPut,
		path:   "/records/" + url.PathEscape(uuid) + "/validate/internal",
		accept: "application/json",
	})
	if err != nil {
		return err
	}
	defer drainClose(resp)

	if resp.StatusCode != http.StatusCreated {
		return &StatusError{Op: "validation of " + uuid, StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) closeEditSession(ctx context.Context, uuid string) error {
	resp, err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/records/" + url.PathEscape(uuid) + "/editor",
		accept: "application/json",
	})
	if err != nil {
		return err
	}
	defer drainClose(resp)

	if resp.StatusCode != http.StatusNoContent {
		return &StatusError{Op: "closing edit session for " + uuid, StatusCode: resp.StatusCode}
	}
	return nil
}

// DeleteRecord removes a record without a server-side backup copy.
func (c *Client) DeleteRecord(ctx context.Context, uuid string) error {
	resp, err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/records/" + url.PathEscape(uuid),
		query:  url.Values{"withBackup": {"false"}},
		accept: "application/json",
	})
	if err != nil {
		return err
	}
	defer drainClose(resp)

	if resp.StatusCode != http.StatusNoContent {
		return &StatusError{Op: "delete of " + uuid, StatusCode: resp.StatusCode}
	}
	return nil
}

// Edit is one xpath/value pair for batch editing.
type Edit struct {
	XPath string `json:"xpath"`
	Value string `json:"value"`
}

// EditMetadata applies a set of xpath edits to a record. With
// updateDateStamp false the record's change date is left untouched.
func (c *Client) EditMetadata(ctx context.Context, uuid string, edits []Edit, updateDateStamp bool) error {
	payload, err := json.Marshal(edits)
	if err != nil {
		return fmt.Errorf("geocat: encoding edits: %w", err)
	}

	resp, err := c.do(ctx, request{
		method: http.MethodPut,
		path:   "/records/batchediting",
		query: url.Values{
			"uuids":           {uuid},
			"updateDateStamp": {strconv.FormatBool(updateDateStamp)},
		},
		body:        bytes.NewReader(payload),
		accept:      "application/json",
		contentType: "application/json",
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkProcessReport(resp, "batch edit of "+uuid)
}

// SearchAndReplace rewrites every occurrence of search with replace in one
// record's stored document, without bumping its change date.
func (c *Client) SearchAndReplace(ctx context.Context, uuid, search, replace string) error {
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/processes/db/search-and-replace",
		query: url.Values{
			"search":          {search},
			"replace":         {replace},
			"uuids":           {uuid},
			"updateDateStamp": {"false"},
		},
		accept:      "application/json",
		contentType: "application/json",
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkProcessReport(resp, "search-and-replace in "+uuid)
}

// RegistryEntry exports a reusable-object (subtemplate) as XML in the given
// languages. The endpoint reports some failures as a 200 with an apiError
// document, which is mapped to an error here.
func (c *Client) RegistryEntry(ctx context.Context, uuid string, langs string) ([]byte, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/registries/entries/" + url.PathEscape(uuid),
		query:  url.Values{"lang": {langs}},
		accept: "application/xml",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Op: "registry entry " + uuid, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("geocat: reading registry entry: %w", err)
	}
	if bytes.HasPrefix(bytes.TrimSpace(body), []byte("<apiError")) {
		return nil, fmt.Errorf("geocat: registry entry %s: api error", uuid)
	}
	return body, nil
}

// processReport is the JSON body returned by the batch-process endpoints
// (upload, ownership, batch editing, search-and-replace).
type processReport struct {
	Errors                     []json.RawMessage `json:"errors"`
	NumberOfNullRecords        int               `json:"numberOfNullRecords"`
	NumberOfRecordNotFound     int               `json:"numberOfRecordNotFound"`
	NumberOfRecordsNotEditable int               `json:"numberOfRecordsNotEditable"`
	NumberOfRecordsProcessed   int               `json:"numberOfRecordsProcessed"`
	NumberOfRecordsWithErrors  int               `json:"numberOfRecordsWithErrors"`
}

// ErrProcessFailed is returned when a batch-process report shows anything
// other than exactly one cleanly processed record.
var ErrProcessFailed = errors.New("geocat: process did not complete cleanly")

// checkProcessReport validates a batch-process response: HTTP 201 and a
// report with one processed record and no failures of any kind.
func checkProcessReport(resp *http.Response, op string) error {
	if resp.StatusCode != http.StatusCreated {
		return &StatusError{Op: op, StatusCode: resp.StatusCode}
	}

	var report processReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return fmt.Errorf("geocat: decoding process report for %s: %w", op, err)
	}

	clean := len(report.Errors) == 0 &&
		report.NumberOfNullRecords == 0 &&
		report.NumberOfRecordNotFound == 0 &&
		report.NumberOfRecordsNotEditable == 0 &&
		report.NumberOfRecordsWithErrors == 0 &&
		report.NumberOfRecordsProcessed == 1

	if !clean {
		return fmt.Errorf("%w: %s", ErrProcessFailed, op)
	}
	return nil
}
