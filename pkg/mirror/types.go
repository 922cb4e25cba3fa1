package mirror

import (
	"context"
	"time"
)

// Defaults applied during normalization when upstream metadata omits a field.
const (
	UnknownUnity    = "Unknown Unity Version"
	UnknownCategory = "Unknown"
)

// TagLatest is the distribution tag maintained by the synchronizer.
const TagLatest = "latest"

// Package is the normalized record stored for one package name.
// It is fully overwritten on every successful sync of that package.
type Package struct {
	Name       string             `bson:"name" json:"name"`
	DistTags   map[string]string  `bson:"distTags" json:"distTags"`
	Versions   map[string]Version `bson:"versions" json:"versions"`
	LastSynced time.Time          `bson:"lastSynced" json:"lastSynced"`
}

// Version is the normalized record for one published version of a package.
type Version struct {
	Version      string            `bson:"version" json:"version"`
	Description  string            `bson:"description" json:"description"`
	DisplayName  string            `bson:"displayName" json:"displayName"`
	Author       string            `bson:"author" json:"author"`
	PublishDate  string            `bson:"publishDate" json:"publishDate"`
	Shasum       string            `bson:"shasum" json:"shasum"`
	Tarball      string            `bson:"tarball" json:"tarball"`
	Unity        string            `bson:"unity" json:"unity"`
	Category     string            `bson:"category" json:"category"`
	HideInEditor bool              `bson:"hideInEditor" json:"hideInEditor"`
	Dependencies map[string]string `bson:"dependencies" json:"dependencies"`
}

// Latest returns the version record the "latest" dist-tag points at.
// Returns false when the tag is absent (no stored version parses as semver)
// or dangling.
func (p *Package) Latest() (Version, bool) {
	tag, ok := p.DistTags[TagLatest]
	if !ok {
		return Version{}, false
	}
	v, ok := p.Versions[tag]
	return v, ok
}

// Identity is one package as listed by the remote feed: enough to know the
// package exists and where its version metadata lives.
type Identity struct {
	Name        string
	VersionsURL string
}

// UpstreamVersion is the per-version metadata the catalog client assembles
// from the remote APIs, before normalization. Fields may be empty; Normalize
// applies the documented fallbacks.
type UpstreamVersion struct {
	Version      string
	Description  string
	DisplayName  string
	Author       string
	PublishDate  string
	Shasum       string
	Tarball      string
	Unity        string
	Category     string
	HideInEditor bool
	Dependencies map[string]string
}

// Catalog lists package identities in the remote feed and fetches full
// version metadata for one identity. Implementations live outside this
// package (see pkg/upstream).
type Catalog interface {
	// List enumerates every package identity in the feed.
	List(ctx context.Context) ([]Identity, error)

	// Fetch retrieves the full version metadata for one identity.
	Fetch(ctx context.Context, id Identity) ([]UpstreamVersion, error)
}

// Upserter is the slice of the metadata store the synchronizer writes to.
type Upserter interface {
	// Upsert replaces the stored record for pkg.Name, creating it if absent.
	Upsert(ctx context.Context, pkg *Package) error
}
