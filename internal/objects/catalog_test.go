package objects

import (
	"context"
	"testing"
)

func TestCatalog_InitOnceAndReset(t *testing.T) {
	f := newFixture(t)
	if !f.catalog.IsLoaded() {
		t.Fatal("fixture catalog should be loaded")
	}
	if err := f.catalog.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.be.mu.Lock()
	calls := f.be.measures
	f.be.mu.Unlock()
	if calls != 1 {
		t.Fatalf("measures fetched %d times", calls)
	}

	mt, ok := f.catalog.Lookup("Trees")
	if !ok || mt.Model != "/models/tree-pine.glb" || mt.Rotation != [3]float64{0, 0, 90} {
		t.Fatalf("lookup=%+v ok=%v", mt, ok)
	}
	if len(f.catalog.Types()) != 2 {
		t.Fatal("expected two types")
	}

	f.catalog.Reset()
	if f.catalog.IsLoaded() {
		t.Fatal("reset should unload")
	}
	if _, ok := f.catalog.Lookup("Trees"); ok {
		t.Fatal("lookup after reset")
	}
	if err := f.catalog.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !f.catalog.IsLoaded() {
		t.Fatal("re-init should load")
	}
}
