package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/nimbusfs/syncengine/internal/synctypes"
	"github.com/nimbusfs/syncengine/pkg/model"
)

// Key namespace for the badger-backed index.
//
// Prefix  Key format        Value
// f:      f:<fileID>        File (JSON)
// l:      l:<fileID>        LocalFileState (JSON)
const (
	badgerPrefixFile  = "f:"
	badgerPrefixLocal = "l:"
)

func badgerKeyFile(id model.FileID) []byte {
	return []byte(badgerPrefixFile + string(id))
}

func badgerKeyLocal(id model.FileID) []byte {
	return []byte(badgerPrefixLocal + string(id))
}

// badgerStore is a Store backed by an embedded BadgerDB, for callers that
// need an index larger than comfortably fits in memory, or crash recovery
// without replaying a WAL from the start on every open. It implements the
// same Change fan-out as memStore; only the durability layer differs.
type badgerStore struct {
	db *badgerdb.DB

	subMu sync.Mutex
	subs  map[chan Change]struct{}
}

// OpenBadger opens (or creates) a BadgerDB-backed Store at dir.
func OpenBadger(dir string) (Store, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}

	return &badgerStore{
		db:   db,
		subs: make(map[chan Change]struct{}),
	}, nil
}

func (s *badgerStore) GetFile(_ context.Context, id model.FileID) (*model.File, error) {
	var f model.File
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(badgerKeyFile(id))
		if err == badgerdb.ErrKeyNotFound {
			return synctypes.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &f)
		})
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *badgerStore) ListFiles(_ context.Context) ([]*model.File, error) {
	var out []*model.File
	err := s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerPrefixFile)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var f model.File
				if err := json.Unmarshal(val, &f); err != nil {
					return err
				}
				if !f.Deleted {
					out = append(out, &f)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list files: %w", err)
	}
	return out, nil
}

func (s *badgerStore) CommitFile(_ context.Context, f *model.File, expectedVersion uint64) error {
	var clone model.File

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(badgerKeyFile(f.ID))
		switch {
		case err == badgerdb.ErrKeyNotFound:
			if expectedVersion != 0 {
				return synctypes.ErrConflict
			}
		case err != nil:
			return err
		default:
			var existing model.File
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return err
			}
			if existing.Version != expectedVersion {
				return synctypes.ErrConflict
			}
		}

		f.Version = expectedVersion + 1
		f.UpdatedAt = time.Now()

		payload, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("marshal file: %w", err)
		}
		if err := txn.Set(badgerKeyFile(f.ID), payload); err != nil {
			return err
		}
		clone = *f
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(Change{Kind: ChangeFile, File: &clone})
	return nil
}

func (s *badgerStore) GetLocalState(_ context.Context, id model.FileID) (*model.LocalFileState, error) {
	var ls model.LocalFileState
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(badgerKeyLocal(id))
		if err == badgerdb.ErrKeyNotFound {
			return synctypes.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ls)
		})
	})
	if err != nil {
		return nil, err
	}
	return &ls, nil
}

func (s *badgerStore) SetLocalState(_ context.Context, ls *model.LocalFileState) error {
	ls.UpdatedAt = time.Now()
	payload, err := json.Marshal(ls)
	if err != nil {
		return fmt.Errorf("marshal local state: %w", err)
	}

	err = s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(badgerKeyLocal(ls.FileID), payload)
	})
	if err != nil {
		return fmt.Errorf("store: set local state: %w", err)
	}

	clone := *ls
	s.publish(Change{Kind: ChangeLocalState, Local: &clone})
	return nil
}

func (s *badgerStore) Subscribe(ctx context.Context) <-chan Change {
	ch := make(chan Change, subscriberBuffer)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.subMu.Unlock()
	}()

	return ch
}

func (s *badgerStore) publish(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (s *badgerStore) Close() error {
	s.subMu.Lock()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
	s.subMu.Unlock()
	return s.db.Close()
}

var _ Store = (*badgerStore)(nil)
