package store_test

import (
	"path/filepath"
	"testing"

	"github.com/nimbusfs/syncengine/pkg/store"
	"github.com/nimbusfs/syncengine/pkg/store/storetest"
	"github.com/nimbusfs/syncengine/pkg/wal"
)

func TestWALConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) store.Store {
		persister, err := wal.NewMmapPersister(filepath.Join(t.TempDir(), "store.wal"))
		if err != nil {
			t.Fatalf("NewMmapPersister() failed: %v", err)
		}
		s, err := store.Open(persister)
		if err != nil {
			t.Fatalf("store.Open() failed: %v", err)
		}
		return s
	})
}
