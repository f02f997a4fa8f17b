package memory

import (
	"testing"

	"github.com/mmynk/splitledger/internal/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	store := New()
	defer store.Close()

	storagetest.Run(t, store)
}
