// mef.go moves metadata packages in and out of the catalogue: MEF zip
// archives and plain XML exports, and the multipart overwrite upload used by
// restore.
//
// Design: the legacy tooling retried proxy failures in an unbounded tight
// loop. Exports here go through a bounded retry with exponential backoff
// (config.Retry); API-level failures (non-200) are never retried, they are
// soft errors the batch layer skips.

package geocat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/juju/retry"

	"github.com/geocat-ops/geocatctl/internal/mef"
)

const mefAccept = "application/x-gn-mef-2-zip"

// ExportMEF fetches the MEF archive for a record. The embedded manifest
// UUID is checked against the requested one before the archive is returned;
// a mismatch is an archive-integrity failure, not a transport problem.
func (c *Client) ExportMEF(ctx context.Context, uuid string, withRelated bool) ([]byte, error) {
	q := url.Values{"withRelated": {strconv.FormatBool(withRelated)}}

	data, err := c.exportWithRetry(ctx, request{
		method: http.MethodGet,
		path:   "/records/" + url.PathEscape(uuid) + "/formatters/zip",
		query:  q,
		accept: mefAccept,
	})
	if err != nil {
		return nil, err
	}

	a, err := mef.Open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("exported archive for %s: %w", uuid, err)
	}
	if a.Manifest.UUID != uuid {
		return nil, fmt.Errorf("%w: requested %s, manifest says %s",
			mef.ErrUUIDMismatch, uuid, a.Manifest.UUID)
	}
	return data, nil
}

// ExportXML fetches a record's raw XML without touching its popularity
// counter.
func (c *Client) ExportXML(ctx context.Context, uuid string) ([]byte, error) {
	return c.exportWithRetry(ctx, request{
		method: http.MethodGet,
		path:   "/records/" + url.PathEscape(uuid) + "/formatters/xml",
		query:  url.Values{"increasePopularity": {"false"}},
		accept: "application/xml",
	})
}

// exportWithRetry issues r, retrying connection-level errors per the
// session's retry policy. A non-200 response surfaces as a StatusError
// immediately.
func (c *Client) exportWithRetry(ctx context.Context, r request) ([]byte, error) {
	var data []byte

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			resp, err := c.do(ctx, r)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return &StatusError{Op: "GET " + r.path, StatusCode: resp.StatusCode}
			}

			data, err = io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("geocat: reading export body: %w", err)
			}
			return nil
		},
		IsFatalError: func(err error) bool {
			var se *StatusError
			return errors.As(err, &se)
		},
		Attempts:    c.retry.Attempts,
		Delay:       c.retry.Delay,
		MaxDelay:    c.retry.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.clock,
		Stop:        ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		err = retry.LastError(err)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// UploadMEF imports an archive, overwriting any existing record with the
// same UUID. group is the owning group the upload is attributed to. Success
// is judged by the batch-process report: exactly one record processed, no
// errors.
func (c *Client) UploadMEF(ctx context.Context, archive io.Reader, filename string, groupID int) error {
	if !c.Authenticated() {
		return ErrNotAuthenticated
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("geocat: building upload form: %w", err)
	}
	if _, err := io.Copy(fw, archive); err != nil {
		return fmt.Errorf("geocat: buffering archive: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("geocat: finalising upload form: %w", err)
	}

	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/records",
		query: url.Values{
			"metadataType":   {"METADATA"},
			"uuidProcessing": {"OVERWRITE"},
			"group":          {strconv.Itoa(groupID)},
			"transformWith":  {"_none_"},
		},
		body:        &body,
		accept:      "application/json",
		contentType: mw.FormDataContentType(),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkProcessReport(resp, "upload of "+filename)
}
