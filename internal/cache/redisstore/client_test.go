package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestStoreLoad_BumpsRevision(t *testing.T) {
	rc, mr := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	const key = "heatstress:objects:k"
	if _, _, err := rc.Load(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load before write err=%v want ErrNotFound", err)
	}
	if rev, err := rc.Revision(ctx, key); err != nil || rev != 0 {
		t.Fatalf("Revision=%d err=%v want 0", rev, err)
	}

	for i, body := range []string{`[]`, `[{"id":"a"}]`} {
		rev, err := rc.Store(ctx, key, []byte(body))
		if err != nil {
			t.Fatalf("Store: %v", err)
		}
		if rev != int64(i+1) {
			t.Fatalf("rev=%d want %d", rev, i+1)
		}
	}

	got, rev, err := rc.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != `[{"id":"a"}]` || rev != 2 {
		t.Fatalf("Load=%q rev=%d", got, rev)
	}
	if ttl := mr.TTL(key); ttl != 0 {
		t.Fatalf("ttl=%v want none", ttl)
	}
}

func TestLoad_SnapshotWithoutRevision(t *testing.T) {
	rc, mr := newMini(t)
	if err := mr.Set("legacy", `[]`); err != nil {
		t.Fatal(err)
	}
	got, rev, err := rc.Load(context.Background(), "legacy")
	if err != nil || string(got) != "[]" || rev != 0 {
		t.Fatalf("Load=%q rev=%d err=%v", got, rev, err)
	}
}

func TestContextDeadline_IsRespected(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := rc.Store(ctx, "k", []byte("v")); err == nil {
		t.Fatalf("expected error on Store with canceled context")
	}
	if _, _, err := rc.Load(ctx, "k"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected context error on Load, got %v", err)
	}
}

func TestNew_RequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestNew_UnreachableServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := New(ctx, "127.0.0.1:1", WithDialTimeout(100*time.Millisecond)); err == nil {
		t.Fatal("expected ping error")
	}
}
