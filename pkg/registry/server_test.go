package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/matzehuels/upmirror/pkg/errors"
	"github.com/matzehuels/upmirror/pkg/mirror"
	"github.com/matzehuels/upmirror/pkg/store"
)

func seedPackage(t *testing.T, s *store.Memory, name string, versions ...string) {
	t.Helper()
	upstream := make([]mirror.UpstreamVersion, len(versions))
	for i, v := range versions {
		upstream[i] = mirror.UpstreamVersion{
			Version:     v,
			Description: "description of " + name + "@" + v,
			Shasum:      "sha-" + v,
			Tarball:     "https://pkgs.example/" + name + "-" + v + ".tgz",
		}
	}
	pkg, err := mirror.Normalize(name, upstream, "Example Inc", time.Now().UTC())
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if err := s.Upsert(context.Background(), pkg); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
}

func newTestServer(t *testing.T, st Store) *httptest.Server {
	t.Helper()
	srv := NewServer(st, nil, Options{License: "proprietary", DBName: "mirror"})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s failed: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHandlePackage(t *testing.T) {
	mem := store.NewMemory()
	seedPackage(t, mem, "com.example.core", "1.0.0", "1.2.0")
	ts := newTestServer(t, mem)

	var doc PackageDocument
	if status := getJSON(t, ts.URL+"/com.example.core", &doc); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}

	if doc.ID != "com.example.core" || doc.Name != "com.example.core" {
		t.Errorf("_id/name = %q/%q", doc.ID, doc.Name)
	}
	if doc.Rev == "" {
		t.Error("_rev is empty")
	}
	if doc.DistTags[mirror.TagLatest] != "1.2.0" {
		t.Errorf("dist-tags.latest = %q, want 1.2.0", doc.DistTags[mirror.TagLatest])
	}
	if doc.Description != "description of com.example.core@1.2.0" {
		t.Errorf("Description = %q, want latest version's", doc.Description)
	}
	if doc.License != "proprietary" {
		t.Errorf("License = %q", doc.License)
	}

	v, ok := doc.Versions["1.0.0"]
	if !ok {
		t.Fatal("versions missing 1.0.0")
	}
	if v.ID != "com.example.core@1.0.0" {
		t.Errorf("version _id = %q", v.ID)
	}
	if v.Dist.Tarball != "https://pkgs.example/com.example.core-1.0.0.tgz" {
		t.Errorf("tarball = %q", v.Dist.Tarball)
	}
	if v.Dist.Shasum != "sha-1.0.0" || v.Shasum != "sha-1.0.0" {
		t.Errorf("shasum = %q/%q", v.Dist.Shasum, v.Shasum)
	}
	if v.Author != "Example Inc" {
		t.Errorf("author = %q, want fallback", v.Author)
	}
}

func TestHandlePackage_NotFound(t *testing.T) {
	ts := newTestServer(t, store.NewMemory())

	var body map[string]string
	if status := getJSON(t, ts.URL+"/com.example.missing", &body); status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if body["error"] != "Not found" {
		t.Errorf("body = %v", body)
	}
}

func TestHandleAll(t *testing.T) {
	mem := store.NewMemory()
	seedPackage(t, mem, "com.example.core", "1.0.0")
	seedPackage(t, mem, "com.example.ui", "2.0.0", "2.1.0")
	ts := newTestServer(t, mem)

	var listing map[string]json.RawMessage
	if status := getJSON(t, ts.URL+"/-/all", &listing); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}

	if _, ok := listing["_updated"]; !ok {
		t.Error("listing missing _updated")
	}

	var summary Summary
	if err := json.Unmarshal(listing["com.example.ui"], &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.DistTags[mirror.TagLatest] != "2.1.0" {
		t.Errorf("summary latest = %q", summary.DistTags[mirror.TagLatest])
	}
	if summary.Versions["2.1.0"] != mirror.TagLatest {
		t.Errorf("summary versions = %v", summary.Versions)
	}
}

func TestHandleSearch_Pagination(t *testing.T) {
	mem := store.NewMemory()
	for _, name := range []string{"ab", "aa", "ac"} {
		seedPackage(t, mem, name, "1.0.0")
	}
	ts := newTestServer(t, mem)

	tests := []struct {
		query     string
		wantNames []string
		wantTotal int
	}{
		{"text=&from=0&size=2", []string{"aa", "ab"}, 3},
		{"text=&from=2&size=2", []string{"ac"}, 3},
		{"text=zz&from=0&size=10", nil, 0},
		{"text=&from=100&size=2", nil, 3},
		{"text=&from=-5&size=-1", nil, 3},
		{"text=AB&from=0&size=10", []string{"ab"}, 1},
		{"text=&from=0&size=9223372036854775807", []string{"aa", "ab", "ac"}, 3},
		{"text=&from=9223372036854775807&size=9223372036854775807", nil, 3},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var result SearchResult
			if status := getJSON(t, ts.URL+"/-/v1/search?"+tt.query, &result); status != http.StatusOK {
				t.Fatalf("status = %d", status)
			}
			if result.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", result.Total, tt.wantTotal)
			}
			if len(result.Objects) != len(tt.wantNames) {
				t.Fatalf("len(objects) = %d, want %d", len(result.Objects), len(tt.wantNames))
			}
			for i, want := range tt.wantNames {
				if result.Objects[i].Package.Name != want {
					t.Errorf("objects[%d] = %q, want %q", i, result.Objects[i].Package.Name, want)
				}
			}
		})
	}
}

func TestHandleLiveness(t *testing.T) {
	ts := newTestServer(t, store.NewMemory())

	var body map[string]string
	if status := getJSON(t, ts.URL+"/", &body); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["db_name"] != "mirror" {
		t.Errorf("db_name = %q", body["db_name"])
	}
}

// failingStore simulates a lost store connection on every operation.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (*mirror.Package, error) {
	return nil, errors.New(errors.ErrCodeStoreUnavailable, "connection lost")
}

func (failingStore) All(context.Context) ([]*mirror.Package, error) {
	return nil, errors.New(errors.ErrCodeStoreUnavailable, "connection lost")
}

func (failingStore) Ping(context.Context) error {
	return errors.New(errors.ErrCodeStoreUnavailable, "connection lost")
}

func TestStoreFailure_NeverNotFound(t *testing.T) {
	ts := newTestServer(t, failingStore{})

	if status := getJSON(t, ts.URL+"/com.example.core", nil); status != http.StatusInternalServerError {
		t.Errorf("package status = %d, want 500", status)
	}
	if status := getJSON(t, ts.URL+"/-/all", nil); status != http.StatusInternalServerError {
		t.Errorf("all status = %d, want 500", status)
	}
	if status := getJSON(t, ts.URL+"/-/v1/search?text=", nil); status != http.StatusInternalServerError {
		t.Errorf("search status = %d, want 500", status)
	}
	if status := getJSON(t, ts.URL+"/", nil); status != http.StatusServiceUnavailable {
		t.Errorf("liveness status = %d, want 503", status)
	}
}

// memCache is a test double counting cache hits.
type memCache struct {
	mu     sync.Mutex
	bodies map[string][]byte
	hits   int
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.bodies[key]
	if ok {
		c.hits++
	}
	return body, ok
}

func (c *memCache) Set(ctx context.Context, key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies[key] = body
}

func TestHandleAll_UsesCache(t *testing.T) {
	mem := store.NewMemory()
	seedPackage(t, mem, "com.example.core", "1.0.0")

	cache := &memCache{bodies: make(map[string][]byte)}
	srv := NewServer(mem, nil, Options{License: "proprietary", DBName: "mirror", Cache: cache})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	for i := 0; i < 2; i++ {
		if status := getJSON(t, ts.URL+"/-/all", nil); status != http.StatusOK {
			t.Fatalf("status = %d", status)
		}
	}
	if cache.hits != 1 {
		t.Errorf("cache hits = %d, want 1", cache.hits)
	}
}
