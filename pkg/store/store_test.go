package store_test

import (
	"testing"

	"github.com/nimbusfs/syncengine/pkg/store"
	"github.com/nimbusfs/syncengine/pkg/store/storetest"
)

func TestInMemoryConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) store.Store {
		return store.OpenInMemory()
	})
}
