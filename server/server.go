// Package server serves a cache registry over HTTP.
//
// Entries are addressed as {handlerPath}/{name}/{key}, where name is a raw
// cache name such as "users#300#60". The '#' characters in a name must be
// percent-encoded as %23.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"path"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/ipni/go-refreshcache/apierror"
	"github.com/ipni/go-refreshcache/rcache"
	"github.com/ipni/go-refreshcache/store"
	"github.com/ipni/go-refreshcache/workpool"
)

var log = logging.Logger("server")

// Server is an HTTP front end for a cache registry.
type Server struct {
	reg          *rcache.Registry
	load         rcache.KeyLoader
	maxValueSize int64
	mux          *http.ServeMux
	server       *http.Server
	listener     net.Listener
}

var _ http.Handler = (*Server)(nil)

// StatsResponse is the body returned by the stats endpoint.
type StatsResponse struct {
	Caches map[string]rcache.Stats
	Pool   workpool.Stats
}

// New creates a Server for the caches in reg. GET requests that miss load
// values using load. If load is nil, a miss returns 404.
func New(reg *rcache.Registry, load rcache.KeyLoader, options ...Option) (*Server, error) {
	if reg == nil {
		return nil, errors.New("nil registry")
	}
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	s := &Server{
		reg:          reg,
		load:         load,
		maxValueSize: opts.maxValueSize,
		mux:          http.NewServeMux(),
	}

	entryPath := path.Join("/", opts.handlerPath, "{name}", "{key...}")
	s.mux.HandleFunc("GET "+entryPath, s.getEntry)
	s.mux.HandleFunc("PUT "+entryPath, s.putEntry)
	s.mux.HandleFunc("DELETE "+entryPath, s.deleteEntry)
	s.mux.HandleFunc("GET /health", s.health)
	s.mux.HandleFunc("GET /stats", s.stats)

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  opts.readTimeout,
		WriteTimeout: opts.writeTimeout,
	}
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start listens on addr and serves requests in the background.
func (s *Server) Start(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = l
	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("HTTP server stopped", "err", err)
		}
	}()
	log.Infow("Cache server listening", "addr", l.Addr().String())
	return nil
}

// Addr returns the address the server is listening on, or an empty string if
// it was not started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server, waiting for active requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	c, key, ok := s.resolve(w, r)
	if !ok {
		return
	}

	var value []byte
	var err error
	if s.load == nil {
		var found bool
		value, found, err = c.Get(r.Context(), key)
		if err == nil && !found {
			err = store.ErrNotFound
		}
	} else {
		value, err = c.GetOrLoad(r.Context(), key, func(ctx context.Context) ([]byte, error) {
			return s.load(ctx, c.ID(), key)
		})
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(value)
}

func (s *Server) putEntry(w http.ResponseWriter, r *http.Request) {
	c, key, ok := s.resolve(w, r)
	if !ok {
		return
	}
	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxValueSize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			err = apierror.New(err, http.StatusRequestEntityTooLarge)
		} else {
			err = apierror.New(err, http.StatusBadRequest)
		}
		s.writeError(w, r, err)
		return
	}
	if err = c.Put(r.Context(), key, value); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	c, key, ok := s.resolve(w, r)
	if !ok {
		return
	}
	if err := c.Evict(r.Context(), key); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "ok")
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	rsp := StatsResponse{
		Caches: make(map[string]rcache.Stats),
		Pool:   s.reg.PoolStats(),
	}
	for _, name := range s.reg.Names() {
		rsp.Caches[name] = s.reg.Resolve(name).Stats()
	}
	data, err := json.Marshal(&rsp)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (*rcache.Cache, string, bool) {
	name := r.PathValue("name")
	key := r.PathValue("key")
	if strings.TrimSpace(name) == "" || key == "" {
		http.Error(w, "cache name and key required", http.StatusBadRequest)
		return nil, "", false
	}
	return s.reg.Resolve(name), key, true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apierror.StatusOf(err)
	if status >= http.StatusInternalServerError {
		log.Errorw("Request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		log.Debugw("Request failed", "method", r.Method, "path", r.URL.Path, "err", err, "status", status)
	}
	apierror.WriteError(w, err)
}
