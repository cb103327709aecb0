package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/updrift-io/updrift/internal/bootsel"
	"github.com/updrift-io/updrift/internal/flash"
	"github.com/updrift-io/updrift/internal/ota"
	"github.com/updrift-io/updrift/internal/partition"
	"github.com/updrift-io/updrift/internal/verify"
)

const testLayoutYAML = `
partitions:
  - {label: bootctl, type: bootctl, base: 0x0, size: 0x1000}
  - {label: ota_0, type: firmware, base: 0x1000, size: 0x4000}
  - {label: ota_1, type: firmware, base: 0x5000, size: 0x4000}
`

func newManager(t *testing.T) (*ota.Manager, flash.Device, *partition.Catalog) {
	t.Helper()

	layout, err := partition.ParseLayout([]byte(testLayoutYAML))
	if err != nil {
		t.Fatalf("parse layout: %v", err)
	}
	dev := flash.NewMemDevice(0x9000)
	catalog, err := partition.Discover(dev, layout, "ota_0")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	selector, err := bootsel.Open(t.TempDir(), "ota_0")
	if err != nil {
		t.Fatalf("open selector: %v", err)
	}
	return ota.NewManager(dev, catalog, selector), dev, catalog
}

func testImage(n int) ([]byte, ota.UpdateDescriptor) {
	img := make([]byte, n)
	for i := range img {
		img[i] = byte(i % 247)
	}
	return img, ota.UpdateDescriptor{
		Version: "v3.0.0",
		Size:    uint64(n),
		Digest:  digest.FromBytes(img),
	}
}

func TestFromURL(t *testing.T) {
	manager, dev, catalog := newManager(t)
	img, desc := testImage(10000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(img)
	}))
	defer srv.Close()

	ctx := context.Background()
	sess, err := manager.Start(ctx, desc)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	f := New(5*time.Second, nil)
	if err := f.FromURL(ctx, sess, srv.URL); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := sess.Status(); got != ota.StatusComplete {
		t.Fatalf("status = %s, want Complete", got)
	}

	target, _ := catalog.Lookup("ota_1")
	if err := verify.Slot(dev, target, desc.Size, desc.Digest); err != nil {
		t.Fatalf("fetched image content: %v", err)
	}
}

func TestFromURLBadStatus(t *testing.T) {
	manager, _, _ := newManager(t)
	_, desc := testImage(100)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	ctx := context.Background()
	sess, err := manager.Start(ctx, desc)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	f := New(5*time.Second, nil)
	if err := f.FromURL(ctx, sess, srv.URL); err == nil {
		t.Fatalf("404 response accepted")
	}
	if got := sess.Status(); got != ota.StatusFailed {
		t.Fatalf("status = %s, want Failed", got)
	}
}

func TestReceiveTimeoutAbortsSession(t *testing.T) {
	manager, _, _ := newManager(t)
	img, desc := testImage(8192)

	stall := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(img[:4096])
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
		<-stall // never send the rest
	}))
	defer srv.Close()
	defer close(stall) // unblock the handler before srv.Close waits on it

	ctx := context.Background()
	sess, err := manager.Start(ctx, desc)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	f := New(200*time.Millisecond, nil)
	err = f.FromURL(ctx, sess, srv.URL)
	if !errors.Is(err, ErrReceiveTimeout) {
		t.Fatalf("fetch = %v, want ErrReceiveTimeout", err)
	}
	if got := sess.Status(); got != ota.StatusFailed {
		t.Fatalf("status = %s, want Failed", got)
	}
}

func TestFromObjectWithoutStore(t *testing.T) {
	manager, _, _ := newManager(t)
	_, desc := testImage(100)

	ctx := context.Background()
	sess, err := manager.Start(ctx, desc)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	f := New(time.Second, nil)
	if err := f.FromObject(ctx, sess, "firmware", "image.bin"); err == nil {
		t.Fatalf("object fetch without a configured store succeeded")
	}
	if got := sess.Status(); got != ota.StatusFailed {
		t.Fatalf("status = %s, want Failed", got)
	}
}
