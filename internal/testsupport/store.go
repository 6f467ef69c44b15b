package testsupport

import (
	"context"
	"fmt"
	"testing"

	"doorkeeper/internal/config"
	"doorkeeper/internal/embedding"
	"doorkeeper/internal/identity"
	"doorkeeper/internal/logging"
)

// MustOpenStore opens an identity.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *identity.Store {
	t.Helper()

	store, err := identity.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("identity.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Enroll creates an identity and stores one sample per vector, labeled
// "sample-1", "sample-2", and so on.
func Enroll(t testing.TB, store *identity.Store, name string, level identity.AccessLevel, vectors ...embedding.Vector) *identity.Identity {
	t.Helper()

	ctx := context.Background()
	ident, err := store.AddIdentity(ctx, name, level)
	if err != nil {
		t.Fatalf("store.AddIdentity: %v", err)
	}
	for i, vec := range vectors {
		ident, err = store.AddSample(ctx, ident.ID, sampleLabel(i), vec)
		if err != nil {
			t.Fatalf("store.AddSample: %v", err)
		}
	}
	return ident
}

func sampleLabel(i int) string {
	return fmt.Sprintf("sample-%d", i+1)
}

// Axis returns a unit vector of length dim pointing along axis.
func Axis(dim, axis int) embedding.Vector {
	v := make(embedding.Vector, dim)
	v[axis] = 1
	return v
}
