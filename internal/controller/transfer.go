package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tangxiangong/yushi/internal/config"
	"github.com/tangxiangong/yushi/internal/models"
)

// Transfer performs one resumable HTTP(S) fetch, streaming the body to the
// destination file and reporting byte progress. It holds no state of its own
// beyond what it reports through the registry's atomic API; the destination
// file is exclusively owned by the single transfer running for its task.
type Transfer struct {
	client    *http.Client
	userAgent string
	chunkSize int64
	timeout   time.Duration
}

// NewTransfer builds a transfer from the current configuration. The
// scheduler constructs one per admission, so config changes apply to future
// transfers without disturbing in-flight streams.
func NewTransfer(cfg config.AppConfig) *Transfer {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		// Raw bytes only, so file offsets line up with range requests.
		DisableCompression: true,
	}
	return &Transfer{
		client:    &http.Client{Transport: transport},
		userAgent: cfg.UserAgent,
		chunkSize: cfg.ChunkSize,
		timeout:   cfg.Timeout,
	}
}

// Run executes the transfer for task, resuming from its recorded offset and
// reporting progress into the registry. It returns ctx.Err() when interrupted
// by pause or cancel, a models.ErrNetwork or models.ErrIO wrap otherwise.
func (t *Transfer) Run(ctx context.Context, task models.DownloadTask, reg *Registry) error {
	return t.stream(ctx, task.URL, task.Dest, task.BytesReceived,
		func(received, total int64) { reg.SetProgress(task.ID, received, total) },
		func(ok bool) { reg.SetAcceptRanges(task.ID, ok) },
		func() { reg.ResetProgress(task.ID) },
	)
}

// Fetch downloads url to dest from byte zero. It is the same primitive as
// Run without a registry binding; the updater drives it for update
// artifacts.
func (t *Transfer) Fetch(ctx context.Context, url, dest string, report func(received, total int64)) error {
	if report == nil {
		report = func(int64, int64) {}
	}
	return t.stream(ctx, url, dest, 0, report, nil, nil)
}

func (t *Transfer) stream(
	ctx context.Context,
	url, dest string,
	offset int64,
	report func(received, total int64),
	onRanges func(ok bool),
	onRestart func(),
) error {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", models.ErrNetwork, err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", models.ErrNetwork, err)
	}
	defer resp.Body.Close()

	var total int64
	switch {
	case resp.StatusCode == http.StatusPartialContent:
		// Server honors the range; continue at offset.
		if onRanges != nil {
			onRanges(true)
		}
		if _, _, rangeTotal, err := parseContentRange(resp.Header.Get("Content-Range")); err == nil && rangeTotal > 0 {
			total = rangeTotal
		} else if resp.ContentLength >= 0 {
			total = offset + resp.ContentLength
		}

	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			// Server ignored the range header; resume is not possible and
			// the partial file restarts from zero.
			if onRanges != nil {
				onRanges(false)
			}
			if onRestart != nil {
				onRestart()
			}
			offset = 0
		} else if onRanges != nil {
			onRanges(resp.Header.Get("Accept-Ranges") == "bytes")
		}
		if resp.ContentLength >= 0 {
			total = resp.ContentLength
		}

	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return fmt.Errorf("%w: %s", models.ErrRangeNotSupported, url)

	default:
		return fmt.Errorf("%w: unexpected status %d for %s", models.ErrNetwork, resp.StatusCode, url)
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", models.ErrIO, dest, err)
	}
	defer f.Close()

	if offset == 0 {
		if err := f.Truncate(0); err != nil {
			return fmt.Errorf("%w: truncate %s: %v", models.ErrIO, dest, err)
		}
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek %s: %v", models.ErrIO, dest, err)
	}

	// A stalled connection never errors on its own; the watchdog cancels the
	// request when no bytes arrive for the configured timeout.
	var lastRead atomic.Int64
	var stalled atomic.Bool
	lastRead.Store(time.Now().UnixNano())
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		ticker := time.NewTicker(t.timeout / 4)
		defer ticker.Stop()
		for {
			select {
			case <-watchdogDone:
				return
			case <-reqCtx.Done():
				return
			case <-ticker.C:
				if time.Since(time.Unix(0, lastRead.Load())) > t.timeout {
					stalled.Store(true)
					cancel()
					return
				}
			}
		}
	}()

	buf := make([]byte, t.chunkSize)
	received := offset
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			lastRead.Store(time.Now().UnixNano())
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("%w: write %s: %v", models.ErrIO, dest, werr)
			}
			received += int64(n)
			report(received, total)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if stalled.Load() {
				return fmt.Errorf("%w: no data received for %v", models.ErrNetwork, t.timeout)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: read body: %v", models.ErrNetwork, readErr)
		}
	}

	if total > 0 && received < total {
		return fmt.Errorf("%w: connection closed at %d of %d bytes", models.ErrNetwork, received, total)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", models.ErrIO, dest, err)
	}
	return nil
}

// parseContentRange parses a Content-Range header value of the form
// "bytes start-end/total". Total is -1 for "*" (unknown).
func parseContentRange(header string) (start, end, total int64, err error) {
	raw := strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(raw, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %q", header)
	}
	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %q", header)
	}
	if start, err = strconv.ParseInt(rangeParts[0], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range start: %w", err)
	}
	if end, err = strconv.ParseInt(rangeParts[1], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range end: %w", err)
	}
	if parts[1] == "*" {
		total = -1
	} else if total, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range total: %w", err)
	}
	return start, end, total, nil
}

// errIsCanceled reports whether err is a context cancellation, directly or
// wrapped by the HTTP client.
func errIsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
