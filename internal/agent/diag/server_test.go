package diag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/updrift-io/updrift/internal/bootsel"
	"github.com/updrift-io/updrift/internal/flash"
	"github.com/updrift-io/updrift/internal/history"
	"github.com/updrift-io/updrift/internal/ota"
	"github.com/updrift-io/updrift/internal/partition"
	"github.com/updrift-io/updrift/internal/slotio"
)

const testLayoutYAML = `
partitions:
  - {label: bootctl, type: bootctl, base: 0x0, size: 0x1000}
  - {label: ota_0, type: firmware, base: 0x1000, size: 0x4000}
  - {label: ota_1, type: firmware, base: 0x5000, size: 0x4000}
`

type env struct {
	manager  *ota.Manager
	selector *bootsel.Selector
	journal  *history.Journal
	srv      *httptest.Server
}

func newEnv(t *testing.T) *env {
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
	journal, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	manager := ota.NewManager(dev, catalog, selector, ota.WithJournal(journal))

	s := NewServer("127.0.0.1:0", manager, journal, NewBroadcaster())
	srv := httptest.NewServer(s.srv.Handler)
	t.Cleanup(srv.Close)

	return &env{manager: manager, selector: selector, journal: journal, srv: srv}
}

func (e *env) get(t *testing.T, path string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp
}

func TestSlotsEndpoint(t *testing.T) {
	e := newEnv(t)

	var slots []SlotInfo
	e.get(t, "/v1/slots", &slots)

	if len(slots) != 3 {
		t.Fatalf("got %d slots, want 3", len(slots))
	}
	byLabel := map[string]SlotInfo{}
	for _, s := range slots {
		byLabel[s.Label] = s
	}
	if !byLabel["ota_0"].Active || byLabel["ota_0"].Role != "running" {
		t.Errorf("ota_0 = %+v", byLabel["ota_0"])
	}
	if byLabel["ota_1"].Active || byLabel["ota_1"].Pending {
		t.Errorf("ota_1 = %+v", byLabel["ota_1"])
	}
	if byLabel["bootctl"].Type != "bootctl" {
		t.Errorf("bootctl = %+v", byLabel["bootctl"])
	}
}

func TestBootEndpointReflectsPending(t *testing.T) {
	e := newEnv(t)

	if err := e.selector.CommitPending("ota_1"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	var info BootInfo
	e.get(t, "/v1/boot", &info)
	if info.Active != "ota_0" || info.Pending != "ota_1" || !info.PendingVerify {
		t.Fatalf("boot info = %+v", info)
	}

	var slots []SlotInfo
	e.get(t, "/v1/slots", &slots)
	for _, s := range slots {
		if s.Label == "ota_1" && !s.Pending {
			t.Fatalf("ota_1 not marked pending: %+v", s)
		}
	}
}

func TestSessionEndpoint(t *testing.T) {
	e := newEnv(t)

	resp := e.get(t, "/v1/session", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("no session: status %d, want 404", resp.StatusCode)
	}

	img := make([]byte, slotio.ChunkSize)
	desc := ota.UpdateDescriptor{
		Version: "v9.9.9",
		Size:    uint64(len(img)),
		Digest:  digest.FromBytes(img),
	}
	ctx := context.Background()
	sess, err := e.manager.Start(ctx, desc)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var snap ota.Snapshot
	e.get(t, "/v1/session", &snap)
	if snap.ID != sess.ID() || snap.Status != ota.StatusDownloading || snap.Target != "ota_1" {
		t.Fatalf("snapshot = %+v", snap)
	}

	if err := sess.Feed(ctx, img); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if err := sess.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}

	// The concluded session is still reported.
	e.get(t, "/v1/session", &snap)
	if snap.Status != ota.StatusComplete || snap.Written != desc.Size {
		t.Fatalf("concluded snapshot = %+v", snap)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	e := newEnv(t)

	now := time.Now()
	for i := 0; i < 3; i++ {
		err := e.journal.Record(context.Background(), history.Entry{
			SessionID: "s", Status: "complete", StartedAt: now, FinishedAt: now,
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	var entries []history.Entry
	e.get(t, "/v1/history?limit=2", &entries)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want limit 2", len(entries))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)

	resp := e.get(t, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
}
