package store

import (
	"context"
	"errors"
	"testing"
	"time"

	uperrors "github.com/matzehuels/upmirror/pkg/errors"
	"github.com/matzehuels/upmirror/pkg/mirror"
)

func testPackage(name, version string) *mirror.Package {
	return &mirror.Package{
		Name:     name,
		DistTags: map[string]string{mirror.TagLatest: version},
		Versions: map[string]mirror.Version{
			version: {
				Version:      version,
				Author:       "someone",
				Dependencies: map[string]string{"dep": "^1.0.0"},
			},
		},
		LastSynced: time.Now().UTC(),
	}
}

func TestMemory_UpsertAndGet(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.Upsert(ctx, testPackage("com.example.core", "1.0.0")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := s.Get(ctx, "com.example.core")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "com.example.core" {
		t.Errorf("Name = %q", got.Name)
	}
	if got.DistTags[mirror.TagLatest] != "1.0.0" {
		t.Errorf("latest = %q, want 1.0.0", got.DistTags[mirror.TagLatest])
	}
}

func TestMemory_GetNotFound(t *testing.T) {
	s := NewMemory()

	_, err := s.Get(context.Background(), "com.example.missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !uperrors.Is(err, uperrors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND code, got %v", uperrors.GetCode(err))
	}
}

func TestMemory_UpsertReplaces(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.Upsert(ctx, testPackage("com.example.core", "1.0.0")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := s.Upsert(ctx, testPackage("com.example.core", "2.0.0")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := s.Get(ctx, "com.example.core")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, ok := got.Versions["1.0.0"]; ok {
		t.Error("replaced record still contains old version 1.0.0")
	}
	if got.DistTags[mirror.TagLatest] != "2.0.0" {
		t.Errorf("latest = %q, want 2.0.0", got.DistTags[mirror.TagLatest])
	}
}

func TestMemory_CopiesOnReadAndWrite(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	in := testPackage("com.example.core", "1.0.0")
	if err := s.Upsert(ctx, in); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Mutating the caller's record must not affect the stored one.
	in.DistTags[mirror.TagLatest] = "9.9.9"

	got, err := s.Get(ctx, "com.example.core")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.DistTags[mirror.TagLatest] != "1.0.0" {
		t.Errorf("stored record aliased caller state: latest = %q", got.DistTags[mirror.TagLatest])
	}

	// Mutating a returned record must not affect subsequent reads.
	got.Versions["1.0.0"] = mirror.Version{Version: "tampered"}
	again, err := s.Get(ctx, "com.example.core")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if again.Versions["1.0.0"].Version != "1.0.0" {
		t.Error("returned record aliased store state")
	}
}

func TestMemory_AllAndDeleteAll(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for _, name := range []string{"aa", "ab", "ac"} {
		if err := s.Upsert(ctx, testPackage(name, "1.0.0")); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	pkgs, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(pkgs) != 3 {
		t.Fatalf("len(All) = %d, want 3", len(pkgs))
	}

	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	pkgs, err = s.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(pkgs) != 0 {
		t.Errorf("len(All) after wipe = %d, want 0", len(pkgs))
	}
}
