// Package remote defines the contract onemount-cachefs expects from a
// OneDrive-like remote object store client. The transport, auth, and directory
// listing implementation behind this interface are out of scope for this
// repository (see SPEC_FULL.md section 1); only the contract lives here,
// grounded in the shape of the teacher project's pkg/graph client.
package remote

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Metadata describes a remote item as returned by GetItem/UploadSmall.
type Metadata struct {
	ID          string
	Size        uint64
	CTag        string
	ModTime     time.Time
	CreatedTime time.Time
	IsDir       bool
	// DownloadURL is a signed URL valid for a bounded time, supporting
	// HTTP Range requests that return 206 Partial Content.
	DownloadURL string
	Deleted     bool
}

// ChangedItem is one entry of a batch delivered by a sync/change feed.
type ChangedItem struct {
	ID      string
	Deleted bool
	// CTag is nil when the change feed entry carries no content-tag
	// information (e.g. a pure rename/move).
	CTag  *string
	IsDir bool
}

// Client is the remote object-store contract this engine consumes.
type Client interface {
	// GetItem fetches metadata for a remote item by id.
	GetItem(ctx context.Context, id string) (Metadata, error)

	// UploadSmall uploads the full content of a file in one request and
	// returns the resulting metadata (including the new CTag).
	UploadSmall(ctx context.Context, location string, data []byte) (Metadata, error)

	// AuthenticatedHTTPClient returns an HTTP client carrying valid
	// credentials on demand; used by Downloader to issue ranged GETs
	// against a Metadata.DownloadURL.
	AuthenticatedHTTPClient() *http.Client
}

// RangeGet issues a ranged GET against url using client, requiring the
// response to be 206 Partial Content starting at offset start. It is a small
// shared helper, not part of the Client contract, because every real
// implementation of Client needs the same range-request plumbing.
func RangeGet(ctx context.Context, client *http.Client, url string, start uint64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", rangeHeader(start))

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, &UnexpectedStatusError{StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

func rangeHeader(start uint64) string {
	return "bytes=" + strconv.FormatUint(start, 10) + "-"
}

// UnexpectedStatusError is returned by RangeGet when the remote does not
// respond with 206 Partial Content.
type UnexpectedStatusError struct {
	StatusCode int
}

func (e *UnexpectedStatusError) Error() string {
	return "remote: unexpected HTTP status " + strconv.Itoa(e.StatusCode) + ", want 206"
}
