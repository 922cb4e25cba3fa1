package mirror

import (
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/matzehuels/upmirror/pkg/errors"
)

// Normalize builds the stored record for one package from its upstream
// version metadata.
//
// Rules applied per version:
//   - an empty author becomes fallbackAuthor (never stored empty)
//   - an empty display name becomes the package name
//   - an empty unity field becomes [UnknownUnity]
//   - an empty category falls back to the upstream author if present,
//     otherwise [UnknownCategory]
//
// The "latest" dist-tag is recomputed from scratch: the highest version
// under semver precedence wins, and versions that do not parse as semver
// are retained in the version set but excluded from the comparison. When
// no version parses, the tag is omitted entirely.
//
// A package with zero upstream versions cannot be represented and yields a
// PACKAGE_SYNC_FAILED error.
func Normalize(name string, upstream []UpstreamVersion, fallbackAuthor string, now time.Time) (*Package, error) {
	if name == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "package name is empty")
	}
	if len(upstream) == 0 {
		return nil, errors.New(errors.ErrCodePackageSyncFailed, "package %s has no versions", name)
	}

	versions := make(map[string]Version, len(upstream))
	for _, uv := range upstream {
		if uv.Version == "" {
			return nil, errors.New(errors.ErrCodePackageSyncFailed, "package %s has a version with no version string", name)
		}

		author := uv.Author
		if author == "" {
			author = fallbackAuthor
		}

		displayName := uv.DisplayName
		if displayName == "" {
			displayName = name
		}

		unity := uv.Unity
		if unity == "" {
			unity = UnknownUnity
		}

		category := uv.Category
		if category == "" {
			category = uv.Author
		}
		if category == "" {
			category = UnknownCategory
		}

		versions[uv.Version] = Version{
			Version:      uv.Version,
			Description:  uv.Description,
			DisplayName:  displayName,
			Author:       author,
			PublishDate:  uv.PublishDate,
			Shasum:       uv.Shasum,
			Tarball:      uv.Tarball,
			Unity:        unity,
			Category:     category,
			HideInEditor: uv.HideInEditor,
			Dependencies: uv.Dependencies,
		}
	}

	pkg := &Package{
		Name:       name,
		DistTags:   map[string]string{},
		Versions:   versions,
		LastSynced: now,
	}
	if latest, ok := latestVersion(versions); ok {
		pkg.DistTags[TagLatest] = latest
	}
	return pkg, nil
}

// latestVersion returns the highest semver in the version set. Unparsable
// version strings do not participate; ok is false when none parse.
func latestVersion(versions map[string]Version) (string, bool) {
	var (
		best    *semver.Version
		bestRaw string
	)
	for raw := range versions {
		v, err := semver.StrictNewVersion(raw)
		if err != nil {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestRaw = raw
		}
	}
	return bestRaw, best != nil
}
