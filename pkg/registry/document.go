package registry

import (
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/matzehuels/upmirror/pkg/mirror"
)

// PackageDocument is the full npm package document served for one package.
type PackageDocument struct {
	ID           string                     `json:"_id"`
	Rev          string                     `json:"_rev"`
	Name         string                     `json:"name"`
	Description  string                     `json:"description"`
	License      string                     `json:"license"`
	DistTags     map[string]string          `json:"dist-tags"`
	Versions     map[string]VersionDocument `json:"versions"`
	Time         map[string]string          `json:"time"`
	DisplayName  string                     `json:"displayName"`
	Unity        string                     `json:"unity"`
	Category     string                     `json:"category"`
	HideInEditor bool                       `json:"hideInEditor"`
	Author       string                     `json:"author"`
}

// VersionDocument is one entry of a package document's versions map.
type VersionDocument struct {
	ID           string            `json:"_id"`
	Shasum       string            `json:"_shasum"`
	Name         string            `json:"name"`
	Author       string            `json:"author"`
	Dependencies map[string]string `json:"dependencies"`
	Description  string            `json:"description"`
	Dist         Dist              `json:"dist"`
	License      string            `json:"license"`
	Version      string            `json:"version"`
	DisplayName  string            `json:"displayName"`
	Unity        string            `json:"unity"`
	Category     string            `json:"category"`
	HideInEditor bool              `json:"hideInEditor"`
}

// Dist carries the upstream download locator. The mirror never fetches or
// caches the archive itself.
type Dist struct {
	Shasum  string `json:"shasum"`
	Tarball string `json:"tarball"`
}

// Summary is one entry of the /-/all listing.
type Summary struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	DistTags     map[string]string `json:"dist-tags"`
	License      string            `json:"license"`
	Time         string            `json:"time"`
	Versions     map[string]string `json:"versions"`
	DisplayName  string            `json:"displayName"`
	Unity        string            `json:"unity"`
	Category     string            `json:"category"`
	HideInEditor bool              `json:"hideInEditor"`
}

// SearchResult is the /-/v1/search response page.
type SearchResult struct {
	Objects []SearchObject `json:"objects"`
	Total   int            `json:"total"`
	Time    string         `json:"time"`
}

// SearchObject wraps one search hit.
type SearchObject struct {
	Package SearchPackage `json:"package"`
}

// SearchPackage is the minimal per-hit summary.
type SearchPackage struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// newPackageDocument projects a stored record into the protocol's package
// document shape.
func newPackageDocument(pkg *mirror.Package, license string) PackageDocument {
	latest := latestOf(pkg)

	versions := make(map[string]VersionDocument, len(pkg.Versions))
	times := make(map[string]string, len(pkg.Versions))
	for ver, v := range pkg.Versions {
		times[ver] = v.PublishDate
		versions[ver] = VersionDocument{
			ID:           pkg.Name + "@" + ver,
			Shasum:       v.Shasum,
			Name:         pkg.Name,
			Author:       v.Author,
			Dependencies: v.Dependencies,
			Description:  v.Description,
			Dist:         Dist{Shasum: v.Shasum, Tarball: v.Tarball},
			License:      license,
			Version:      ver,
			DisplayName:  v.DisplayName,
			Unity:        v.Unity,
			Category:     v.Category,
			HideInEditor: v.HideInEditor,
		}
	}

	return PackageDocument{
		ID:           pkg.Name,
		Rev:          newRev(),
		Name:         pkg.Name,
		Description:  latest.Description,
		License:      license,
		DistTags:     distTags(pkg, latest),
		Versions:     versions,
		Time:         times,
		DisplayName:  latest.DisplayName,
		Unity:        latest.Unity,
		Category:     latest.Category,
		HideInEditor: latest.HideInEditor,
		Author:       latest.Author,
	}
}

// newSummary projects a stored record into the /-/all entry shape.
func newSummary(pkg *mirror.Package, license string) Summary {
	latest := latestOf(pkg)
	return Summary{
		Name:         pkg.Name,
		Description:  latest.Description,
		DistTags:     distTags(pkg, latest),
		License:      license,
		Time:         latest.PublishDate,
		Versions:     map[string]string{latest.Version: mirror.TagLatest},
		DisplayName:  latest.DisplayName,
		Unity:        latest.Unity,
		Category:     latest.Category,
		HideInEditor: latest.HideInEditor,
	}
}

// latestOf resolves the version record summaries and document headers are
// built from. When the latest tag is absent (no stored version parsed as
// semver) it falls back to the lexically greatest version string so the
// projection stays deterministic.
func latestOf(pkg *mirror.Package) mirror.Version {
	if v, ok := pkg.Latest(); ok {
		return v
	}
	var best string
	for ver := range pkg.Versions {
		if ver > best {
			best = ver
		}
	}
	return pkg.Versions[best]
}

func distTags(pkg *mirror.Package, latest mirror.Version) map[string]string {
	if len(pkg.DistTags) > 0 {
		return pkg.DistTags
	}
	return map[string]string{mirror.TagLatest: latest.Version}
}

// newRev mimics the CouchDB-style revision marker npm clients expect on a
// package document. The mirror has no revision history, so a fresh opaque
// value per response is sufficient.
func newRev() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// searchMatches filters and sorts package records for one search query:
// case-insensitive substring match on the name, sorted by name.
func searchMatches(pkgs []*mirror.Package, text string) []*mirror.Package {
	needle := strings.ToLower(text)
	matches := make([]*mirror.Package, 0, len(pkgs))
	for _, pkg := range pkgs {
		if strings.Contains(strings.ToLower(pkg.Name), needle) {
			matches = append(matches, pkg)
		}
	}
	slices.SortFunc(matches, func(a, b *mirror.Package) int {
		return strings.Compare(a.Name, b.Name)
	})
	return matches
}

// page clamps from/size and slices out one page of matches. An
// out-of-range offset yields an empty page, not an error, and from+size is
// never trusted to stay within integer range.
func page(matches []*mirror.Package, from, size int) []*mirror.Package {
	from = max(from, 0)
	size = max(size, 0)
	if from >= len(matches) {
		return nil
	}
	end := from + size
	if end < from || end > len(matches) {
		end = len(matches)
	}
	return matches[from:end]
}
