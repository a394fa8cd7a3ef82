package da

import (
	"errors"
	"testing"
	"time"

	"github.com/kaslum/kaslum-node/internal/storage"
	"github.com/kaslum/kaslum-node/pkg/types"
)

func TestStoreAndRetrieveBlob(t *testing.T) {
	db := storage.NewMemory()
	s := New(db, DefaultConfig(), nil)

	data := []byte("batch payload")
	h, err := s.StoreBlob(data)
	if err != nil {
		t.Fatalf("StoreBlob: %v", err)
	}

	got, err := s.RetrieveBlob(h)
	if err != nil {
		t.Fatalf("RetrieveBlob: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}

	has, err := s.HasBlob(h)
	if err != nil || !has {
		t.Fatalf("HasBlob = %v, %v, want true, nil", has, err)
	}
}

func TestStoreBlobContentAddressedDedup(t *testing.T) {
	db := storage.NewMemory()
	s := New(db, DefaultConfig(), nil)

	data := []byte("same bytes")
	h1, err := s.StoreBlob(data)
	if err != nil {
		t.Fatalf("StoreBlob first: %v", err)
	}
	h2, err := s.StoreBlob(data)
	if err != nil {
		t.Fatalf("StoreBlob second: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("identical content hashed differently: %s vs %s", h1, h2)
	}
}

func TestStoreBlobTooLarge(t *testing.T) {
	db := storage.NewMemory()
	s := New(db, Config{MaxBlobSize: 4, RetentionPeriod: time.Hour}, nil)

	_, err := s.StoreBlob([]byte("too big"))
	if !errors.Is(err, ErrBlobTooLarge) {
		t.Fatalf("StoreBlob over limit: got %v, want ErrBlobTooLarge", err)
	}
}

func TestRetrieveBlobNotFound(t *testing.T) {
	db := storage.NewMemory()
	s := New(db, DefaultConfig(), nil)

	_, err := s.RetrieveBlob(types.Hash{0xff})
	if !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("RetrieveBlob missing: got %v, want ErrBlobNotFound", err)
	}
}

func TestSweepEvictsExpiredUnpinned(t *testing.T) {
	db := storage.NewMemory()
	s := New(db, Config{MaxBlobSize: 1 << 20, RetentionPeriod: time.Hour}, nil)

	base := time.Unix(1_700_000_000, 0)
	nowFunc = func() time.Time { return base }
	defer func() { nowFunc = time.Now }()

	h, err := s.StoreBlob([]byte("stale"))
	if err != nil {
		t.Fatalf("StoreBlob: %v", err)
	}

	nowFunc = func() time.Time { return base.Add(2 * time.Hour) }
	n, err := s.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("Sweep removed %d blobs, want 1", n)
	}
	if has, _ := s.HasBlob(h); has {
		t.Fatal("blob should have been swept")
	}
}

func TestSweepSkipsPinned(t *testing.T) {
	db := storage.NewMemory()
	var pinnedHash types.Hash
	s := New(db, Config{MaxBlobSize: 1 << 20, RetentionPeriod: time.Hour}, func(h types.Hash) bool {
		return h == pinnedHash
	})

	base := time.Unix(1_700_000_000, 0)
	nowFunc = func() time.Time { return base }
	defer func() { nowFunc = time.Now }()

	h, err := s.StoreBlob([]byte("pinned"))
	if err != nil {
		t.Fatalf("StoreBlob: %v", err)
	}
	pinnedHash = h

	nowFunc = func() time.Time { return base.Add(2 * time.Hour) }
	n, err := s.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("Sweep removed %d blobs, want 0 (pinned)", n)
	}
	if has, _ := s.HasBlob(h); !has {
		t.Fatal("pinned blob should survive sweep")
	}
}
