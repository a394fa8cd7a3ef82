// Package da implements the content-addressed blob store that keeps
// transaction/batch payload data available to verifiers after settlement
// (C8). It is deliberately simple: a key-value store keyed by content hash,
// a size cap per blob, and a retention sweep that a caller drives
// periodically, skipping anything pinned by a still-unfinalized batch.
package da

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kaslum/kaslum-node/internal/errkind"
	"github.com/kaslum/kaslum-node/internal/storage"
	"github.com/kaslum/kaslum-node/pkg/crypto"
	"github.com/kaslum/kaslum-node/pkg/types"
)

var (
	ErrBlobTooLarge = errors.New("blob exceeds max data size")
	ErrBlobNotFound = errors.New("blob not found")
)

var (
	blobPrefix = []byte("da/blob/")
	metaPrefix = []byte("da/meta/")
)

func blobKey(h types.Hash) []byte {
	return append(append([]byte{}, blobPrefix...), h[:]...)
}

func metaKey(h types.Hash) []byte {
	return append(append([]byte{}, metaPrefix...), h[:]...)
}

// Config bounds blob size and retention.
type Config struct {
	MaxBlobSize     int
	RetentionPeriod time.Duration
}

// DefaultConfig matches the sizes implied by the eUTXO datum/script caps
// this layer is meant to carry: room for several batches' worth of
// reference scripts and datums.
func DefaultConfig() Config {
	return Config{
		MaxBlobSize:     1 << 20, // 1 MiB
		RetentionPeriod: 7 * 24 * time.Hour,
	}
}

// PinChecker reports whether a blob hash is still referenced by an
// unfinalized settlement batch, in which case the sweep must not evict it
// even if its retention period has elapsed.
type PinChecker func(h types.Hash) bool

// meta is the retention bookkeeping stored alongside each blob.
type meta struct {
	StoredAt int64 // unix seconds
}

func encodeMeta(m meta) []byte {
	buf := make([]byte, 8)
	v := uint64(m.StoredAt)
	for i := 0; i < 8; i++ {
		buf[7-i] = byte(v)
		v >>= 8
	}
	return buf
}

func decodeMeta(b []byte) (meta, error) {
	if len(b) != 8 {
		return meta{}, fmt.Errorf("corrupt da metadata: %d bytes", len(b))
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return meta{StoredAt: int64(v)}, nil
}

// Store is the content-addressed blob store.
type Store struct {
	mu     sync.Mutex
	db     storage.DB
	cfg    Config
	pinned PinChecker
}

// New creates a blob store backed by db. pinned may be nil, in which case
// Sweep evicts purely by age.
func New(db storage.DB, cfg Config, pinned PinChecker) *Store {
	return &Store{db: db, cfg: cfg, pinned: pinned}
}

// StoreBlob persists data and returns its content hash. Storing the same
// bytes twice is a no-op returning the same hash (content addressing).
func (s *Store) StoreBlob(data []byte) (types.Hash, error) {
	if len(data) > s.cfg.MaxBlobSize {
		return types.Hash{}, errkind.Wrap(
			fmt.Errorf("%w: %d > %d", ErrBlobTooLarge, len(data), s.cfg.MaxBlobSize),
			errkind.ProtocolViolation,
		)
	}

	h := crypto.Hash(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if has, err := s.db.Has(blobKey(h)); err == nil && has {
		return h, nil
	}
	if err := s.db.Put(blobKey(h), data); err != nil {
		return types.Hash{}, fmt.Errorf("store blob: %w", err)
	}
	if err := s.db.Put(metaKey(h), encodeMeta(meta{StoredAt: nowFunc().Unix()})); err != nil {
		return types.Hash{}, fmt.Errorf("store blob metadata: %w", err)
	}
	return h, nil
}

// RetrieveBlob returns the bytes stored for h.
func (s *Store) RetrieveBlob(h types.Hash) ([]byte, error) {
	data, err := s.db.Get(blobKey(h))
	if err != nil {
		return nil, errkind.Wrap(fmt.Errorf("%w: %s", ErrBlobNotFound, h), errkind.NotFound)
	}
	return data, nil
}

// HasBlob reports whether h is present.
func (s *Store) HasBlob(h types.Hash) (bool, error) {
	return s.db.Has(blobKey(h))
}

// Sweep deletes blobs older than the retention period that are not pinned
// by an unfinalized settlement batch. It returns the number of blobs
// removed.
func (s *Store) Sweep() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toDelete []types.Hash
	cutoff := nowFunc().Add(-s.cfg.RetentionPeriod).Unix()

	err := s.db.ForEach(metaPrefix, func(key, value []byte) error {
		if len(key) < len(metaPrefix)+32 {
			return nil
		}
		var h types.Hash
		copy(h[:], key[len(metaPrefix):])

		m, err := decodeMeta(value)
		if err != nil {
			return nil // skip corrupt entries rather than abort the sweep
		}
		if m.StoredAt > cutoff {
			return nil
		}
		if s.pinned != nil && s.pinned(h) {
			return nil
		}
		toDelete = append(toDelete, h)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep scan: %w", err)
	}

	for _, h := range toDelete {
		if err := s.db.Delete(blobKey(h)); err != nil {
			return 0, fmt.Errorf("sweep delete blob: %w", err)
		}
		if err := s.db.Delete(metaKey(h)); err != nil {
			return 0, fmt.Errorf("sweep delete metadata: %w", err)
		}
	}
	return len(toDelete), nil
}

// nowFunc is a var so tests can override it without relying on wall-clock
// time.
var nowFunc = time.Now
