package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("lib/cache")

var ErrNotFound = errors.New("cache: entry not found")

type entry struct {
	Value []byte

	// unix seconds, 0 means the entry never expires
	ExpiresAt int64
}

func (e entry) expired(now time.Time) bool {
	return e.ExpiresAt != 0 && now.Unix() >= e.ExpiresAt
}

// Store is a durable key/value cache with TTL expiry and compute-once
// population. The badger database is authoritative; a small in-memory layer
// sits in front of it to keep repeat reads off disk.
type Store struct {
	db     *badger.DB
	group  singleflight.Group
	memory *expirable.LRU[string, entry]
	prune  chan struct{}
}

func Open(dir string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return newStore(db), nil
}

// OpenInMemory is for tests: the same semantics with nothing on disk.
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return newStore(db), nil
}

func newStore(db *badger.DB) *Store {
	s := &Store{
		db:     db,
		memory: expirable.NewLRU[string, entry](4096, nil, time.Minute*5),
		prune:  make(chan struct{}),
	}
	go s.pruneLoop()
	return s
}

// badger reclaims value-log space only when asked, so do it on a timer
func (s *Store) pruneLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.prune:
			return
		case <-ticker.C:
			for s.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

func (s *Store) Close() error {
	close(s.prune)
	return s.db.Close()
}

func (s *Store) Namespace(name string) Namespace {
	return Namespace{store: s, name: name}
}

// Namespace scopes keys to one resource kind ("api", "pages", ...). Within a
// namespace a key maps to at most one value at a time.
type Namespace struct {
	store *Store
	name  string
}

func (n Namespace) fullKey(key string) string {
	return n.name + ":" + key
}

func (n Namespace) Get(ctx context.Context, key string) ([]byte, error) {
	e, err := n.store.get(ctx, n.fullKey(key))
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

func (n Namespace) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return n.store.set(ctx, n.fullKey(key), value, ttl)
}

func (n Namespace) Has(ctx context.Context, key string) bool {
	_, err := n.store.get(ctx, n.fullKey(key))
	return err == nil
}

// GetOrSet returns the cached value for key, invoking factory to populate an
// absent or expired entry. Concurrent callers for the same key share a single
// factory invocation and observe the same result. The factory runs under the
// given hard timeout; on error or timeout nothing is persisted.
func (n Namespace) GetOrSet(
	ctx context.Context,
	key string,
	ttl time.Duration,
	timeout time.Duration,
	factory func(ctx context.Context) ([]byte, error),
) ([]byte, error) {
	full := n.fullKey(key)

	value, err, _ := n.store.group.Do(full, func() (any, error) {
		if cached, err := n.store.get(ctx, full); err == nil {
			return cached.Value, nil
		}

		fctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		produced, err := factory(fctx)
		if err != nil {
			return nil, err
		}
		err = n.store.set(ctx, full, produced, ttl)
		if err != nil {
			return nil, err
		}
		return produced, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}

func (s *Store) get(ctx context.Context, full string) (entry, error) {
	ctx, span := tracer.Start(ctx, "get")
	defer span.End()
	span.SetAttributes(attribute.String("cache_key", full))

	now := time.Now()

	if cached, hit := s.memory.Get(full); hit {
		if !cached.expired(now) {
			span.SetStatus(codes.Ok, "MEMORY HIT")
			return cached, nil
		}
		s.memory.Remove(full)
	}

	tx := s.db.NewTransaction(false)
	defer tx.Discard()

	item, err := tx.Get([]byte(full))
	if err == badger.ErrKeyNotFound {
		return entry{}, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read item from badger")
		return entry{}, err
	}
	serialized, err := item.ValueCopy(nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to copy cached item")
		return entry{}, err
	}

	var cached entry
	err = gob.NewDecoder(bytes.NewBuffer(serialized)).Decode(&cached)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deserialize cached item")
		return entry{}, err
	}

	if cached.expired(now) {
		wtx := s.db.NewTransaction(true)
		err = wtx.Delete([]byte(full))
		if err != nil {
			span.RecordError(err)
		}
		err = wtx.Commit()
		if err != nil {
			span.RecordError(err)
			slog.Warn("failed to delete expired cache entry", "key", full, "err", err)
		}
		span.SetStatus(codes.Ok, "CACHE EXPIRED")
		return entry{}, ErrNotFound
	}

	s.memory.Add(full, cached)
	return cached, nil
}

func (s *Store) set(ctx context.Context, full string, value []byte, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "set")
	defer span.End()
	span.SetAttributes(attribute.String("cache_key", full))

	e := entry{Value: value}
	if ttl > 0 {
		e.ExpiresAt = time.Now().Add(ttl).Unix()
	}

	serialized := bytes.NewBuffer(nil)
	err := gob.NewEncoder(serialized).Encode(e)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize entry")
		return err
	}

	tx := s.db.NewTransaction(true)
	err = tx.Set([]byte(full), serialized.Bytes())
	if err != nil {
		tx.Discard()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set badger item")
		return err
	}
	err = tx.Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to commit badger transaction")
		return err
	}

	s.memory.Add(full, e)
	return nil
}
