package cachefs

import (
	"context"
	"io"
	"time"

	"github.com/auriora/onemount-cachefs/pkg/logging"
	"github.com/auriora/onemount-cachefs/pkg/remote"
	"github.com/auriora/onemount-cachefs/pkg/retry"
)

// Downloader streams a remote item's content into a channel of chunks,
// resuming with a ranged request when the transfer drops partway through.
// It owns no state across calls; DiskCache starts one Run per populating
// slot and FilePool one per streaming handle, and every retry of a transfer
// happens inside that single Run.
type Downloader struct {
	client    remote.Client
	policy    retry.Policy
	chunkSize int
}

// NewDownloader builds a Downloader bound to client, configured from cfg.
func NewDownloader(client remote.Client, cfg DownloadConfig) *Downloader {
	chunkSize := cfg.StreamChunkSize
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	return &Downloader{
		client: client,
		// cfg.MaxRetry counts retries after a failed first attempt, so the
		// policy's total attempt budget is one more than that.
		policy:    retry.Policy{MaxAttempts: cfg.MaxRetry + 1, Delay: delay, Jitter: delay/4 + 1},
		chunkSize: chunkSize,
	}
}

// Run delivers exactly size bytes read from url, in order, as a sequence of
// chunks on sink. It closes sink when the transfer finishes, whether in
// success or failure, so a receiving StreamState always sees an end.
//
// Cancelling ctx aborts the transfer early (the caller dropped the slot, or
// an overlapping truncate made the remaining bytes moot); Run returns
// ctx.Err() in that case.
func (d *Downloader) Run(ctx context.Context, size uint64, url string, sink chan<- []byte) error {
	defer close(sink)

	if size == 0 {
		return nil
	}

	var delivered uint64
	err := retry.Do(ctx, d.policy, func() error {
		body, err := remote.RangeGet(ctx, d.client.AuthenticatedHTTPClient(), url, delivered)
		if err != nil {
			return err
		}
		n, readErr := d.drain(ctx, body, size-delivered, sink)
		body.Close()
		delivered += n
		if readErr != nil {
			logging.Debug().Str("url", url).Uint64("delivered", delivered).Msg("download interrupted, resuming")
			return readErr
		}
		return nil
	})

	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrDownloadFailed
}

// drain copies up to remaining bytes from body onto sink in chunkSize
// pieces, returning the number of bytes delivered and any read error (io.EOF
// is not an error here: it's only a problem if fewer than remaining bytes
// were read before it).
func (d *Downloader) drain(ctx context.Context, body io.Reader, remaining uint64, sink chan<- []byte) (uint64, error) {
	var total uint64
	buf := make([]byte, d.chunkSize)
	for total < remaining {
		want := uint64(len(buf))
		if left := remaining - total; left < want {
			want = left
		}
		n, err := body.Read(buf[:want])
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case sink <- chunk:
			case <-ctx.Done():
				return total, ctx.Err()
			}
			total += uint64(n)
		}
		if err != nil {
			if err == io.EOF && total >= remaining {
				return total, nil
			}
			return total, err
		}
	}
	return total, nil
}
