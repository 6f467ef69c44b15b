package identity_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"doorkeeper/internal/embedding"
	"doorkeeper/internal/faults"
	"doorkeeper/internal/identity"
	"doorkeeper/internal/testsupport"
)

type recordingListener struct {
	mu         sync.Mutex
	embeddings map[int64]embedding.Vector
	changes    []identity.Change
}

func newRecordingListener() *recordingListener {
	return &recordingListener{embeddings: map[int64]embedding.Vector{}}
}

func (r *recordingListener) EmbeddingChanged(id int64, mean embedding.Vector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[id] = mean
}

func (r *recordingListener) IdentityChanged(change identity.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func TestAddIdentityAndGet(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	created, err := store.AddIdentity(ctx, "  Ada  ", identity.AccessLevel("ADMIN"))
	if err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}
	if created.ID == 0 || created.DisplayName != "Ada" || created.AccessLevel != identity.AccessAdmin {
		t.Fatalf("unexpected identity %#v", created)
	}

	fetched, err := store.GetIdentity(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if fetched.SampleCount != 0 || fetched.Mean != nil {
		t.Fatalf("new identity should have no mean, got %#v", fetched)
	}

	if _, err := store.GetIdentity(ctx, created.ID+100); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAddIdentityValidation(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := store.AddIdentity(ctx, " ", identity.AccessFriend); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for empty name, got %v", err)
	}
	if _, err := store.AddIdentity(ctx, "Bob", identity.AccessLevel("janitor")); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for access level, got %v", err)
	}
}

func TestSampleLifecycleMaintainsMean(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	listener := newRecordingListener()
	store.Subscribe(listener)
	ctx := context.Background()

	ident := testsupport.Enroll(t, store, "Grace", identity.AccessFamily,
		testsupport.Axis(4, 0), embedding.Vector{0, 2, 0, 0}, testsupport.Axis(4, 2))
	if ident.SampleCount != 3 {
		t.Fatalf("sample count = %d, want 3", ident.SampleCount)
	}
	if !embedding.IsUnit(ident.Mean) {
		t.Fatalf("mean not unit: %v", embedding.Norm(ident.Mean))
	}
	listener.mu.Lock()
	pushed := listener.embeddings[ident.ID]
	listener.mu.Unlock()
	if len(pushed) != 4 {
		t.Fatalf("expected listener to receive mean, got %v", pushed)
	}

	stored, err := store.GetIdentity(ctx, ident.ID)
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if !embedding.IsUnit(stored.Mean) || stored.SampleCount != 3 {
		t.Fatalf("stored identity inconsistent: %#v", stored)
	}

	samples, err := store.ListSamples(ctx, ident.ID)
	if err != nil {
		t.Fatalf("ListSamples: %v", err)
	}
	if len(samples) != 3 || !embedding.IsUnit(samples[1].Embedding) {
		t.Fatalf("unexpected samples %#v", samples)
	}

	for i, label := range []string{"sample-1", "sample-2"} {
		updated, err := store.DeleteSample(ctx, ident.ID, label)
		if err != nil {
			t.Fatalf("DeleteSample(%s): %v", label, err)
		}
		if updated.SampleCount != 2-i {
			t.Fatalf("count after delete = %d", updated.SampleCount)
		}
		if !embedding.IsUnit(updated.Mean) {
			t.Fatalf("mean not unit after delete")
		}
	}

	last, err := store.DeleteSample(ctx, ident.ID, "sample-3")
	if err != nil {
		t.Fatalf("DeleteSample last: %v", err)
	}
	if last.SampleCount != 0 || last.Mean != nil {
		t.Fatalf("expected cleared mean, got %#v", last)
	}
	listener.mu.Lock()
	pushed, ok := listener.embeddings[ident.ID]
	listener.mu.Unlock()
	if !ok || pushed != nil {
		t.Fatalf("expected nil mean pushed after last removal, got %v", pushed)
	}
}

func TestAddSampleRejectsDuplicateLabelAndUnknownIdentity(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	ident := testsupport.Enroll(t, store, "Linus", identity.AccessFriend, testsupport.Axis(3, 0))

	if _, err := store.AddSample(ctx, ident.ID, "sample-1", testsupport.Axis(3, 1)); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for duplicate label, got %v", err)
	}
	after, err := store.GetIdentity(ctx, ident.ID)
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if after.SampleCount != 1 {
		t.Fatalf("failed insert must not change count, got %d", after.SampleCount)
	}

	if _, err := store.AddSample(ctx, 9999, "x", testsupport.Axis(3, 0)); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.AddSample(ctx, ident.ID, "zero", embedding.Vector{0, 0, 0}); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for zero vector, got %v", err)
	}
	if _, err := store.DeleteSample(ctx, ident.ID, "missing"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found for missing sample, got %v", err)
	}
}

func TestUpdateAndDeleteIdentityNotifies(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	listener := newRecordingListener()
	store.Subscribe(listener)
	ctx := context.Background()
	ident := testsupport.Enroll(t, store, "Alan", identity.AccessFriend, testsupport.Axis(3, 0))

	name := "Alan T."
	level := identity.AccessAdmin
	updated, err := store.UpdateIdentity(ctx, ident.ID, identity.Update{DisplayName: &name, AccessLevel: &level})
	if err != nil {
		t.Fatalf("UpdateIdentity: %v", err)
	}
	if updated.DisplayName != name || updated.AccessLevel != level {
		t.Fatalf("unexpected update result %#v", updated)
	}

	if err := store.DeleteIdentity(ctx, ident.ID); err != nil {
		t.Fatalf("DeleteIdentity: %v", err)
	}
	if err := store.DeleteIdentity(ctx, ident.ID); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if _, err := store.ListSamples(ctx, ident.ID); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected samples gone with identity, got %v", err)
	}

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.changes) != 2 {
		t.Fatalf("expected 2 changes, got %#v", listener.changes)
	}
	first := listener.changes[0]
	if first.DisplayName == nil || *first.DisplayName != name || first.AccessLevel == nil || *first.AccessLevel != level {
		t.Fatalf("unexpected partial change %#v", first)
	}
	if !listener.changes[1].Deleted {
		t.Fatalf("expected deletion change, got %#v", listener.changes[1])
	}
}

func TestListIdentitiesOrderedByName(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	testsupport.Enroll(t, store, "Zed", identity.AccessFriend)
	testsupport.Enroll(t, store, "Amy", identity.AccessFamily, testsupport.Axis(2, 1))

	list, err := store.ListIdentities(context.Background())
	if err != nil {
		t.Fatalf("ListIdentities: %v", err)
	}
	if len(list) != 2 || list[0].DisplayName != "Amy" || list[1].DisplayName != "Zed" {
		t.Fatalf("unexpected order %#v", list)
	}
	if list[0].Mean == nil || list[1].Mean != nil {
		t.Fatalf("unexpected means %#v", list)
	}
}

func TestReopenKeepsData(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ident := testsupport.Enroll(t, store, "Barbara", identity.AccessAdmin, testsupport.Axis(2, 0))
	store.Close()

	reopened := testsupport.MustOpenStore(t, cfg)
	got, err := reopened.GetIdentity(context.Background(), ident.ID)
	if err != nil {
		t.Fatalf("GetIdentity after reopen: %v", err)
	}
	if got.SampleCount != 1 || !embedding.IsUnit(got.Mean) {
		t.Fatalf("unexpected identity after reopen %#v", got)
	}
}

func TestCorruptedMeanIsSkippedThenRepaired(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	ident := testsupport.Enroll(t, store, "Edsger", identity.AccessFamily, testsupport.Axis(3, 0), testsupport.Axis(3, 1))

	raw, err := sql.Open("sqlite", cfg.DatabasePath())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer raw.Close()
	if _, err := raw.Exec("UPDATE identities SET mean_embedding = ? WHERE id = ?", []byte{0xc1, 0xc1}, ident.ID); err != nil {
		t.Fatalf("corrupt mean: %v", err)
	}

	got, err := store.GetIdentity(ctx, ident.ID)
	if err != nil {
		t.Fatalf("GetIdentity should tolerate corrupt blob: %v", err)
	}
	if got.Mean != nil {
		t.Fatalf("corrupt mean should read as absent, got %v", got.Mean)
	}

	repaired, err := store.AddSample(ctx, ident.ID, "sample-3", testsupport.Axis(3, 2))
	if err != nil {
		t.Fatalf("AddSample: %v", err)
	}
	if repaired.SampleCount != 3 || !embedding.IsUnit(repaired.Mean) {
		t.Fatalf("expected repaired mean over 3 samples, got %#v", repaired)
	}
	m := repaired.Mean
	if m[0] <= 0 || m[1] <= 0 || m[2] <= 0 || m[0]-m[1] > 1e-6 || m[1]-m[0] > 1e-6 {
		t.Fatalf("rebuilt mean should weigh every sample, got %v", m)
	}
}

// orderListener records notices as "embedding" or "deleted"/"changed".
type orderListener struct {
	mu     sync.Mutex
	events []string
}

func (o *orderListener) EmbeddingChanged(int64, embedding.Vector) {
	o.mu.Lock()
	o.events = append(o.events, "embedding")
	o.mu.Unlock()
}

func (o *orderListener) IdentityChanged(change identity.Change) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if change.Deleted {
		o.events = append(o.events, "deleted")
		return
	}
	o.events = append(o.events, "changed")
}

// deleteOnEmbedding deletes the identity the first time its embedding changes.
type deleteOnEmbedding struct {
	store *identity.Store
	once  sync.Once
	err   error
}

func (d *deleteOnEmbedding) EmbeddingChanged(id int64, _ embedding.Vector) {
	d.once.Do(func() { d.err = d.store.DeleteIdentity(context.Background(), id) })
}

func (d *deleteOnEmbedding) IdentityChanged(identity.Change) {}

func TestListenerWritesAreDeliveredAfterCurrentNotice(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	ident, err := store.AddIdentity(ctx, "Ada", identity.AccessAdmin)
	if err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}

	deleter := &deleteOnEmbedding{store: store}
	order := &orderListener{}
	store.Subscribe(deleter)
	store.Subscribe(order)

	if _, err := store.AddSample(ctx, ident.ID, "front", testsupport.Axis(3, 0)); err != nil {
		t.Fatalf("AddSample: %v", err)
	}
	if deleter.err != nil {
		t.Fatalf("DeleteIdentity from listener: %v", deleter.err)
	}

	order.mu.Lock()
	got := append([]string(nil), order.events...)
	order.mu.Unlock()
	if len(got) != 2 || got[0] != "embedding" || got[1] != "deleted" {
		t.Fatalf("notices delivered as %v, want [embedding deleted]", got)
	}
}

func TestConcurrentSamplesNotifyLatestMean(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	ident, err := store.AddIdentity(ctx, "Ada", identity.AccessAdmin)
	if err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}
	listener := newRecordingListener()
	store.Subscribe(listener)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			label := string(rune('a' + i))
			if _, err := store.AddSample(ctx, ident.ID, label, testsupport.Axis(3, i%3)); err != nil {
				t.Errorf("AddSample %s: %v", label, err)
			}
		}()
	}
	wg.Wait()

	stored, err := store.GetIdentity(ctx, ident.ID)
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	listener.mu.Lock()
	last := listener.embeddings[ident.ID]
	listener.mu.Unlock()
	if len(last) != len(stored.Mean) {
		t.Fatalf("listener mean %v, stored %v", last, stored.Mean)
	}
	for i := range last {
		if last[i] != stored.Mean[i] {
			t.Fatalf("listener kept a stale mean %v, stored %v", last, stored.Mean)
		}
	}
}
