package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/upmirror/pkg/errors"
	"github.com/matzehuels/upmirror/pkg/httputil"
	"github.com/matzehuels/upmirror/pkg/mirror"
)

const (
	defaultFeedsBaseURL    = "https://feeds.dev.azure.com"
	defaultPackagesBaseURL = "https://pkgs.dev.azure.com"

	feedAPIVersion = "6.0-preview.1"

	httpTimeout = 10 * time.Second
)

// Config configures a feed client.
type Config struct {
	// Org is the DevOps organization name.
	Org string

	// Feed is the Artifacts feed identifier.
	Feed string

	// PAT is the personal access token used for both APIs.
	PAT string

	// FeedsBaseURL and PackagesBaseURL override the provider endpoints,
	// primarily for tests. Empty means the public service URLs.
	FeedsBaseURL    string
	PackagesBaseURL string
}

// Client talks to the Artifacts feed and its npm registry view. It
// implements [mirror.Catalog].
type Client struct {
	http   *http.Client
	cfg    Config
	auth   string
	logger *log.Logger

	mu          sync.Mutex
	packagesURL string // listing URL discovered from the feed document
}

// New creates a feed client. Org, Feed, and PAT are required.
func New(cfg Config, logger *log.Logger) (*Client, error) {
	switch {
	case cfg.Org == "":
		return nil, errors.New(errors.ErrCodeInvalidConfig, "organization name is required")
	case cfg.Feed == "":
		return nil, errors.New(errors.ErrCodeInvalidConfig, "feed identifier is required")
	case cfg.PAT == "":
		return nil, errors.New(errors.ErrCodeInvalidConfig, "personal access token is required")
	}
	if cfg.FeedsBaseURL == "" {
		cfg.FeedsBaseURL = defaultFeedsBaseURL
	}
	if cfg.PackagesBaseURL == "" {
		cfg.PackagesBaseURL = defaultPackagesBaseURL
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		http:   &http.Client{Timeout: httpTimeout},
		cfg:    cfg,
		auth:   "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+cfg.PAT)),
		logger: logger,
	}, nil
}

// List enumerates every package identity in the feed.
func (c *Client) List(ctx context.Context) ([]mirror.Identity, error) {
	listURL, err := c.listingURL(ctx)
	if err != nil {
		return nil, err
	}

	var listing packageListing
	if err := c.get(ctx, listURL, &listing); err != nil {
		return nil, wrapUpstream(err, "fetch package listing")
	}

	ids := make([]mirror.Identity, 0, len(listing.Value))
	for _, entry := range listing.Value {
		if entry.Name == "" || entry.Links.Versions.Href == "" {
			c.logger.Warn("skipping malformed feed entry", "name", entry.Name)
			continue
		}
		ids = append(ids, mirror.Identity{
			Name:        entry.Name,
			VersionsURL: entry.Links.Versions.Href,
		})
	}
	return ids, nil
}

// Fetch retrieves full version metadata for one package by joining the feed
// version document with the npm registry view. A version present in the
// feed but missing from the registry view is dropped with a warning; the
// provider produces such entries occasionally.
func (c *Client) Fetch(ctx context.Context, id mirror.Identity) ([]mirror.UpstreamVersion, error) {
	var feedDoc versionListing
	if err := c.get(ctx, id.VersionsURL, &feedDoc); err != nil {
		return nil, err
	}

	var reg packument
	if err := c.get(ctx, c.registryURL(id.Name), &reg); err != nil {
		return nil, err
	}

	versions := make([]mirror.UpstreamVersion, 0, len(feedDoc.Value))
	for _, fv := range feedDoc.Value {
		rv, ok := reg.Versions[fv.Version]
		if !ok {
			c.logger.Warn("version exists in feed but not in npm registry, dropping",
				"package", id.Name, "version", fv.Version)
			continue
		}

		deps := make(map[string]string, len(fv.Dependencies))
		for _, dep := range fv.Dependencies {
			deps[dep.PackageName] = dep.VersionRange
		}

		versions = append(versions, mirror.UpstreamVersion{
			Version:      fv.Version,
			Description:  fv.Description,
			PublishDate:  fv.PublishDate,
			Dependencies: deps,
			Author:       nameOf(rv.Author),
			DisplayName:  rv.DisplayName,
			Shasum:       rv.Dist.Shasum,
			Tarball:      rv.Dist.Tarball,
			Unity:        rv.Unity,
			Category:     rv.Category,
			HideInEditor: rv.HideInEditor,
		})
	}
	return versions, nil
}

// listingURL resolves and caches the feed's package-listing URL from the
// feed document's _links.
func (c *Client) listingURL(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.packagesURL != "" {
		return c.packagesURL, nil
	}

	feedURL := fmt.Sprintf("%s/%s/_apis/packaging/feeds/%s?api-version=%s",
		c.cfg.FeedsBaseURL, c.cfg.Org, c.cfg.Feed, feedAPIVersion)

	var doc feedDocument
	if err := c.get(ctx, feedURL, &doc); err != nil {
		return "", wrapUpstream(err, "resolve feed document")
	}
	if doc.Links.Packages.Href == "" {
		return "", errors.New(errors.ErrCodeUpstreamUnavailable, "feed document has no packages link")
	}
	c.packagesURL = doc.Links.Packages.Href
	return c.packagesURL, nil
}

func (c *Client) registryURL(name string) string {
	return fmt.Sprintf("%s/%s/_packaging/%s/npm/registry/%s",
		c.cfg.PackagesBaseURL, c.cfg.Org, c.cfg.Feed, url.PathEscape(name))
}

// get performs an authenticated GET and JSON-decodes the response into v.
// Transport errors and 5xx responses are retried with backoff; 203 (the
// provider's token-rejected status) and other 4xx responses are not.
func (c *Client) get(ctx context.Context, rawURL string, v any) error {
	return httputil.RetryWithBackoff(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", c.auth)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return &httputil.RetryableError{
				Err: errors.Wrap(errors.ErrCodeUpstreamUnavailable, err, "request %s", rawURL),
			}
		}
		defer resp.Body.Close()

		if err := checkStatus(resp.StatusCode); err != nil {
			return err
		}
		return json.NewDecoder(resp.Body).Decode(v)
	})
}

// wrapUpstream adds context to a request failure without masking an
// already-classified code. A 203 stays UNAUTHORIZED through the wrap so the
// synchronizer can tell a dead token from a flaky feed.
func wrapUpstream(err error, format string, args ...any) error {
	code := errors.GetCode(err)
	if code == "" {
		code = errors.ErrCodeUpstreamUnavailable
	}
	return errors.Wrap(code, err, format, args...)
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNonAuthoritativeInfo:
		// The provider answers 203 instead of 401 when the token is
		// rejected or lacks the packaging scope.
		return errors.New(errors.ErrCodeUnauthorized, "access token rejected (status 203)")
	case code == http.StatusNotFound:
		return errors.New(errors.ErrCodeNotFound, "resource not found")
	case code >= 500:
		return &httputil.RetryableError{
			Err: errors.New(errors.ErrCodeUpstreamUnavailable, "status %d", code),
		}
	default:
		return errors.New(errors.ErrCodeUpstreamUnavailable, "status %d", code)
	}
}

// nameOf extracts an author name from the registry's polymorphic author
// field, which may be a plain string or an object with a name key.
func nameOf(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		if s, ok := val["name"].(string); ok {
			return s
		}
	}
	return ""
}

// Wire shapes for the provider's APIs. Only the fields the mirror consumes
// are declared.

type feedDocument struct {
	Links struct {
		Packages struct {
			Href string `json:"href"`
		} `json:"packages"`
	} `json:"_links"`
}

type packageListing struct {
	Value []struct {
		Name  string `json:"name"`
		Links struct {
			Versions struct {
				Href string `json:"href"`
			} `json:"versions"`
		} `json:"_links"`
	} `json:"value"`
}

type versionListing struct {
	Value []struct {
		Version      string `json:"version"`
		Description  string `json:"description"`
		PublishDate  string `json:"publishDate"`
		Dependencies []struct {
			PackageName  string `json:"packageName"`
			VersionRange string `json:"versionRange"`
		} `json:"dependencies"`
	} `json:"value"`
}

type packument struct {
	Versions map[string]struct {
		Author      any    `json:"author"`
		DisplayName string `json:"displayName"`
		Unity       string `json:"unity"`
		Category    string `json:"category"`
		Dist        struct {
			Shasum  string `json:"shasum"`
			Tarball string `json:"tarball"`
		} `json:"dist"`
		HideInEditor bool `json:"hideInEditor"`
	} `json:"versions"`
}
