package cli

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matzehuels/upmirror/pkg/errors"
	"github.com/matzehuels/upmirror/pkg/mirror"
	"github.com/matzehuels/upmirror/pkg/store"
)

// staticCatalog serves a fixed set of packages and counts listings.
type staticCatalog struct {
	lists    atomic.Int64
	packages map[string][]mirror.UpstreamVersion
}

func (c *staticCatalog) List(ctx context.Context) ([]mirror.Identity, error) {
	c.lists.Add(1)
	ids := make([]mirror.Identity, 0, len(c.packages))
	for name := range c.packages {
		ids = append(ids, mirror.Identity{Name: name, VersionsURL: "fake://" + name})
	}
	return ids, nil
}

func (c *staticCatalog) Fetch(ctx context.Context, id mirror.Identity) ([]mirror.UpstreamVersion, error) {
	return c.packages[id.Name], nil
}

func seedRecord(t *testing.T, st *store.Memory, name string) {
	t.Helper()
	pkg := &mirror.Package{
		Name:     name,
		DistTags: map[string]string{mirror.TagLatest: "1.0.0"},
		Versions: map[string]mirror.Version{"1.0.0": {Version: "1.0.0"}},
	}
	if err := st.Upsert(context.Background(), pkg); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestStartSync_WipesOnceBeforeFirstCycle(t *testing.T) {
	st := store.NewMemory()
	seedRecord(t, st, "com.example.stale")

	catalog := &staticCatalog{packages: map[string][]mirror.UpstreamVersion{
		"com.example.a": {{Version: "1.0.0"}},
	}}

	c := New(&bytes.Buffer{}, LogInfo)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.startSync(ctx, st, catalog, true, mirror.Options{
			FallbackAuthor: "Example Inc",
			Interval:       20 * time.Millisecond,
		})
	}()

	// Once the first cycle has landed the catalog package, the record that
	// predates startup must already be gone.
	waitFor(t, func() bool {
		_, err := st.Get(context.Background(), "com.example.a")
		return err == nil
	})
	if _, err := st.Get(context.Background(), "com.example.stale"); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("record survived the wipe: %v", err)
	}

	// A record written after startup is not part of the catalog, so only a
	// repeated wipe could remove it. It must survive further cycles.
	seedRecord(t, st, "com.example.marker")
	seen := catalog.lists.Load()
	waitFor(t, func() bool { return catalog.lists.Load() >= seen+2 })
	if _, err := st.Get(context.Background(), "com.example.marker"); err != nil {
		t.Errorf("marker removed by a repeated wipe: %v", err)
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("startSync returned %v, want context.Canceled", err)
	}
}

// wipeFailStore fails the wipe while behaving normally otherwise.
type wipeFailStore struct {
	*store.Memory
}

func (s *wipeFailStore) DeleteAll(ctx context.Context) error {
	return errors.New(errors.ErrCodeStoreUnavailable, "connection lost")
}

func TestStartSync_FailedWipeAbortsStartup(t *testing.T) {
	st := &wipeFailStore{Memory: store.NewMemory()}
	catalog := &staticCatalog{packages: map[string][]mirror.UpstreamVersion{
		"com.example.a": {{Version: "1.0.0"}},
	}}

	c := New(&bytes.Buffer{}, LogInfo)
	err := c.startSync(context.Background(), st, catalog, true, mirror.Options{
		FallbackAuthor: "Example Inc",
	})
	if !errors.Is(err, errors.ErrCodeStoreUnavailable) {
		t.Fatalf("expected STORE_UNAVAILABLE, got %v", err)
	}
	if catalog.lists.Load() != 0 {
		t.Error("synchronizer ran a cycle after the wipe failed")
	}
}
