// Package fetch streams firmware artifacts into an update session. The
// fetcher owns transport-level timeouts and aborts the session itself when
// the byte stream stalls; the session only ever sees Feed/Finish/Abort.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/updrift-io/updrift/internal/ota"
	"github.com/updrift-io/updrift/internal/slotio"
	"github.com/updrift-io/updrift/pkg/log"
)

// ErrReceiveTimeout is returned when the stream produces no bytes within the
// configured receive window.
var ErrReceiveTimeout = errors.New("fetch: receive timeout waiting for firmware bytes")

// Fetcher drives one artifact transfer at a time into a session.
type Fetcher struct {
	httpClient *http.Client
	s3Client   *minio.Client

	// receiveTimeout bounds the wait for each successive read, not the
	// whole transfer.
	receiveTimeout time.Duration
}

// New builds a fetcher. s3Client may be nil when no object store is
// configured; FromObject then fails.
func New(receiveTimeout time.Duration, s3Client *minio.Client) *Fetcher {
	return &Fetcher{
		httpClient:     &http.Client{},
		s3Client:       s3Client,
		receiveTimeout: receiveTimeout,
	}
}

// FromURL streams the artifact at url into the session and finishes it.
func (f *Fetcher) FromURL(ctx context.Context, sess *ota.Session, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		_ = sess.Abort(ctx)
		return fmt.Errorf("fetch: build request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		_ = sess.Abort(ctx)
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_ = sess.Abort(ctx)
		return fmt.Errorf("fetch: unexpected status %s for %s", resp.Status, url)
	}

	log.Info("Fetching firmware artifact", "session", sess.ID(), "url", url)
	return f.stream(ctx, sess, resp.Body)
}

// FromObject streams the named object out of the configured bucket into the
// session and finishes it.
func (f *Fetcher) FromObject(ctx context.Context, sess *ota.Session, bucket, key string) error {
	if f.s3Client == nil {
		_ = sess.Abort(ctx)
		return errors.New("fetch: no object store configured")
	}

	obj, err := f.s3Client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		_ = sess.Abort(ctx)
		return fmt.Errorf("fetch: get object %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	log.Info("Fetching firmware artifact", "session", sess.ID(),
		"bucket", bucket, "object", key)
	return f.stream(ctx, sess, obj)
}

type chunk struct {
	data []byte
	err  error
}

// stream pumps r into the session in chunk-sized reads, aborting on a stalled
// stream. The caller keeps ownership of r and closes it; closing unblocks the
// reader goroutine after a timeout.
func (f *Fetcher) stream(ctx context.Context, sess *ota.Session, r io.Reader) error {
	done := make(chan struct{})
	defer close(done)

	chunks := make(chan chunk)
	go func() {
		defer close(chunks)
		for {
			buf := make([]byte, slotio.ChunkSize)
			n, err := r.Read(buf)
			select {
			case chunks <- chunk{data: buf[:n], err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(f.receiveTimeout)
	defer timer.Stop()

	for {
		var c chunk
		select {
		case c = <-chunks:
		case <-timer.C:
			log.Error(ErrReceiveTimeout, "Aborting session", "session", sess.ID())
			_ = sess.Abort(ctx)
			return ErrReceiveTimeout
		case <-ctx.Done():
			_ = sess.Abort(ctx)
			return ctx.Err()
		}

		if len(c.data) > 0 {
			if err := sess.Feed(ctx, c.data); err != nil {
				return err
			}
		}
		if c.err == io.EOF {
			return sess.Finish(ctx)
		}
		if c.err != nil {
			_ = sess.Abort(ctx)
			return fmt.Errorf("fetch: read artifact: %w", c.err)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(f.receiveTimeout)
	}
}
