package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/upmirror/pkg/errors"
	"github.com/matzehuels/upmirror/pkg/mirror"
)

// Search page size bounds, matching the public npm registry: 20 when the
// client omits size, capped at 250.
const (
	defaultSearchSize = 20
	maxSearchSize     = 250
)

// Store is the slice of the metadata store the adapter reads from. The
// adapter never mutates the store.
type Store interface {
	Get(ctx context.Context, name string) (*mirror.Package, error)
	All(ctx context.Context) ([]*mirror.Package, error)
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	// License is stamped on every served document (the upstream feed is a
	// private registry; its packages carry no license metadata).
	License string

	// DBName is reported by the liveness endpoint.
	DBName string

	// Cache holds rendered bodies for the full-catalog endpoints.
	// Nil disables caching.
	Cache Cache
}

// Server answers npm registry protocol queries from the metadata store.
type Server struct {
	store   Store
	cache   Cache
	logger  *log.Logger
	license string
	dbName  string
}

// NewServer creates a Server. A nil logger falls back to log.Default().
func NewServer(store Store, logger *log.Logger, opts Options) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if opts.Cache == nil {
		opts.Cache = NewNullCache()
	}
	return &Server{
		store:   store,
		cache:   opts.Cache,
		logger:  logger,
		license: opts.License,
		dbName:  opts.DBName,
	}
}

// Router builds the HTTP routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/", s.handleLiveness)
	r.Get("/-/all", s.handleAll)
	r.Get("/-/v1/search", s.handleSearch)
	r.Get("/{name}", s.handlePackage)

	return r
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	s.logger.Info("registry adapter listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

// handleLiveness reports whether the adapter can reach the store. A store
// outage must be distinguishable from every normal response, so it answers
// 503 rather than any 4xx.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("liveness ping failed", "err", err)
		s.writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"db_name": s.dbName})
}

// handlePackage serves the full document for one package, or 404 for a
// package that has never been synced. Store failures surface as 500, never
// as not-found.
func (s *Server) handlePackage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	pkg, err := s.store.Get(r.Context(), name)
	switch {
	case errors.Is(err, errors.ErrCodeNotFound):
		s.writeError(w, http.StatusNotFound, "Not found")
		return
	case err != nil:
		s.logger.Error("package lookup failed", "package", name, "err", err)
		s.writeError(w, http.StatusInternalServerError, "store read failed")
		return
	}

	s.writeJSON(w, http.StatusOK, newPackageDocument(pkg, s.license))
}

// handleAll serves the bulk listing: one summary per known package plus the
// _updated stamp.
func (s *Server) handleAll(w http.ResponseWriter, r *http.Request) {
	const cacheKey = "registry:all"
	if body, ok := s.cache.Get(r.Context(), cacheKey); ok {
		s.writeRaw(w, http.StatusOK, body)
		return
	}

	pkgs, err := s.store.All(r.Context())
	if err != nil {
		s.logger.Error("catalog listing failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "store read failed")
		return
	}

	listing := make(map[string]any, len(pkgs)+1)
	listing["_updated"] = time.Now().Unix()
	for _, pkg := range pkgs {
		listing[pkg.Name] = newSummary(pkg, s.license)
	}

	body, err := json.Marshal(listing)
	if err != nil {
		s.logger.Error("encode listing failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "encode failed")
		return
	}
	s.cache.Set(r.Context(), cacheKey, body)
	s.writeRaw(w, http.StatusOK, body)
}

// handleSearch serves a deterministic page of name matches.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	from := max(intParam(r, "from", 0), 0)
	size := min(max(intParam(r, "size", defaultSearchSize), 0), maxSearchSize)

	cacheKey := "registry:search:" + text + ":" + strconv.Itoa(from) + ":" + strconv.Itoa(size)
	if body, ok := s.cache.Get(r.Context(), cacheKey); ok {
		s.writeRaw(w, http.StatusOK, body)
		return
	}

	pkgs, err := s.store.All(r.Context())
	if err != nil {
		s.logger.Error("search listing failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "store read failed")
		return
	}

	matches := searchMatches(pkgs, text)
	result := SearchResult{
		Objects: make([]SearchObject, 0, size),
		Total:   len(matches),
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	for _, pkg := range page(matches, from, size) {
		latest := latestOf(pkg)
		result.Objects = append(result.Objects, SearchObject{Package: SearchPackage{
			Name:        pkg.Name,
			Version:     latest.Version,
			Description: latest.Description,
		}})
	}

	body, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("encode search result failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "encode failed")
		return
	}
	s.cache.Set(r.Context(), cacheKey, body)
	s.writeRaw(w, http.StatusOK, body)
}

func intParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode response failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "encode failed")
		return
	}
	s.writeRaw(w, status, body)
}

func (s *Server) writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		s.logger.Debug("write response failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Millisecond),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
