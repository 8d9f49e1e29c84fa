package store_test

import (
	"path/filepath"
	"testing"

	"github.com/nimbusfs/syncengine/pkg/store"
	"github.com/nimbusfs/syncengine/pkg/store/storetest"
)

func TestBadgerConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) store.Store {
		s, err := store.OpenBadger(filepath.Join(t.TempDir(), "index"))
		if err != nil {
			t.Fatalf("OpenBadger() failed: %v", err)
		}
		return s
	})
}
