package objects

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/heatstress-map/internal/core/executor"
	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
)

const testSignature = "neeghboorhoods"

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func testTypes() []model.MeasureType {
	return []model.MeasureType{
		{ID: 1, Name: "Trees", Model: "/models/tree-pine.glb", Scale: 2, Rotation: [3]float64{0, 0, 90}, Height: model.Float(12), Radius: model.Float(4), Geometry: "circle"},
		{ID: 2, Name: "Ponds", Model: "/models/pond.glb", Scale: 1.5},
	}
}

// backend fakes /measures and /update-pet.
type backend struct {
	mu         sync.Mutex
	saveStatus int
	saves      []savePayload
	measures   int

	// saveGate, when set, holds every /update-pet until closed.
	saveGate    chan struct{}
	saveStarted chan struct{}
}

func (b *backend) handler(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	gate, started := b.saveGate, b.saveStarted
	b.mu.Unlock()
	if r.URL.Path == "/update-pet" && gate != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	switch r.URL.Path {
	case "/measures":
		b.measures++
		_ = json.NewEncoder(w).Encode(testTypes())
	case "/update-pet":
		var p savePayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		b.saves = append(b.saves, p)
		if b.saveStatus != 0 {
			w.WriteHeader(b.saveStatus)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	default:
		http.NotFound(w, r)
	}
}

func (b *backend) setSaveStatus(code int) {
	b.mu.Lock()
	b.saveStatus = code
	b.mu.Unlock()
}

func (b *backend) saveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.saves)
}

func (b *backend) lastSave() savePayload {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves[len(b.saves)-1]
}

type fixture struct {
	be      *backend
	exec    *executor.Executor
	catalog *Catalog
	store   *MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	be := &backend{}
	srv := httptest.NewServer(http.HandlerFunc(be.handler))
	t.Cleanup(srv.Close)

	exec, err := executor.New(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, srv.URL)
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}
	cat := NewCatalog(exec)
	if err := cat.Init(context.Background()); err != nil {
		t.Fatalf("catalog init: %v", err)
	}
	return &fixture{be: be, exec: exec, catalog: cat, store: NewMemoryStore()}
}

func (f *fixture) manager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(context.Background(), nil, f.exec, f.store, f.catalog, Options{
		Signature:   testSignature,
		DefaultType: "Trees",
		Now:         func() time.Time { return fixedNow },
	})
}
