package objects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mohammed-shakir/heatstress-map/internal/cache/keys"
	"github.com/mohammed-shakir/heatstress-map/internal/cache/redisstore"
	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
	"github.com/mohammed-shakir/heatstress-map/internal/core/observability"
)

// Store persists the committed object set. Load on an empty store returns
// an empty slice and no error.
type Store interface {
	Load(ctx context.Context) ([]model.ObjectInstance, error)
	Save(ctx context.Context, objs []model.ObjectInstance) error
}

type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load(context.Context) ([]model.ObjectInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return decodeObjects(s.data)
}

func (s *MemoryStore) Save(_ context.Context, objs []model.ObjectInstance) error {
	b, err := encodeObjects(objs)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = b
	s.mu.Unlock()
	return nil
}

// FileStore keeps the committed set as <dir>/<key>.json.
type FileStore struct {
	dir string
	key string
}

func NewFileStore(dir, key string) *FileStore {
	if key == "" {
		key = "userPlacedObjects"
	}
	return &FileStore{dir: dir, key: key}
}

func (s *FileStore) Path() string { return filepath.Join(s.dir, s.key+".json") }

func (s *FileStore) Load(context.Context) ([]model.ObjectInstance, error) {
	start := time.Now()
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err == nil {
		var objs []model.ObjectInstance
		objs, err = decodeObjects(data)
		observability.ObserveStoreOp("file_load", err, time.Since(start).Seconds())
		return objs, err
	}
	observability.ObserveStoreOp("file_load", err, time.Since(start).Seconds())
	return nil, fmt.Errorf("read %s: %w", s.Path(), err)
}

func (s *FileStore) Save(_ context.Context, objs []model.ObjectInstance) error {
	start := time.Now()
	err := s.write(objs)
	observability.ObserveStoreOp("file_save", err, time.Since(start).Seconds())
	return err
}

func (s *FileStore) write(objs []model.ObjectInstance) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(nonNil(objs), "", "  ")
	if err != nil {
		return err
	}
	tmp := s.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path())
}

// RedisStore keeps the committed set under one Redis key so several service
// instances can share it.
type RedisStore struct {
	rc        *redisstore.Client
	key       string
	opTimeout time.Duration

	mu  sync.Mutex
	rev int64
}

func NewRedisStore(rc *redisstore.Client, storageKey string, opTimeout time.Duration) *RedisStore {
	return &RedisStore{rc: rc, key: keys.ObjectsKey(storageKey), opTimeout: opTimeout}
}

func (s *RedisStore) Key() string { return s.key }

func (s *RedisStore) Load(ctx context.Context) ([]model.ObjectInstance, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	b, rev, err := s.rc.Load(ctx, s.key)
	if errors.Is(err, redisstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis load: %w", err)
	}
	s.setRevision(rev)
	return decodeObjects(b)
}

func (s *RedisStore) Save(ctx context.Context, objs []model.ObjectInstance) error {
	b, err := encodeObjects(objs)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rev, err := s.rc.Store(ctx, s.key, b)
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	s.setRevision(rev)
	return nil
}

// Revision is the store revision last loaded or written by this instance.
// It trails the shared counter when another instance saved since.
func (s *RedisStore) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rev
}

func (s *RedisStore) setRevision(rev int64) {
	s.mu.Lock()
	s.rev = rev
	s.mu.Unlock()
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func encodeObjects(objs []model.ObjectInstance) ([]byte, error) {
	return json.Marshal(nonNil(objs))
}

func decodeObjects(b []byte) ([]model.ObjectInstance, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var objs []model.ObjectInstance
	if err := json.Unmarshal(b, &objs); err != nil {
		return nil, fmt.Errorf("decode stored objects: %w", err)
	}
	return objs, nil
}

func nonNil(objs []model.ObjectInstance) []model.ObjectInstance {
	if objs == nil {
		return []model.ObjectInstance{}
	}
	return objs
}
