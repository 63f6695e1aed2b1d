package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/bjarneo/shelfie/internal/client"
	"github.com/bjarneo/shelfie/internal/core"
	"github.com/bjarneo/shelfie/internal/enrich"
	"github.com/bjarneo/shelfie/internal/listing"
	"github.com/bjarneo/shelfie/internal/metrics"
)

var log = logging.Logger("server")

const maxBody = 64 * 1024

// Client is the part of client.Client served over HTTP.
type Client interface {
	Status() core.State
	Config() client.Settings
	Search(ctx context.Context, query string) ([]listing.Entry, error)
	Download(ctx context.Context, command string) (client.Delivery, error)
}

// Annotator adds metadata to search results.
type Annotator interface {
	Annotate(ctx context.Context, entries []listing.Entry) []enrich.Result
}

type app struct {
	client    Client
	annotator Annotator
}

type statusResponse struct {
	State       core.State `json:"state"`
	Server      string     `json:"server"`
	Channel     string     `json:"channel"`
	Nickname    string     `json:"nickname"`
	DownloadDir string     `json:"downloadDir"`
}

type searchRequest struct {
	Query string `json:"query"`
}

type searchResponse struct {
	Results []enrich.Result `json:"results"`
}

type downloadRequest struct {
	Command string `json:"command"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler routes the JSON API and the metrics endpoint. annotator may be
// nil, in which case ?enrich=1 is ignored.
func Handler(c Client, annotator Annotator) http.Handler {
	a := &app{client: c, annotator: annotator}

	m := mux.NewRouter()
	m.Use(logRequests)

	api := m.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", a.status).Methods(http.MethodGet)
	api.HandleFunc("/search", a.search).Methods(http.MethodPost)
	api.HandleFunc("/download", a.download).Methods(http.MethodPost)

	m.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return m
}

// Serve runs the API on listen until ctx is done.
func Serve(ctx context.Context, listen string, h http.Handler) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return xerrors.Errorf("listen on %s: %w", listen, err)
	}

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warnw("shutting down http server", "error", err)
		}
	}()

	log.Infof("listening on http://%s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return xerrors.Errorf("serve: %w", err)
	}
	return nil
}

func (a *app) status(w http.ResponseWriter, r *http.Request) {
	cfg := a.client.Config()
	writeJSON(w, http.StatusOK, statusResponse{
		State:       a.client.Status(),
		Server:      cfg.Session.Server,
		Channel:     cfg.Session.Channel,
		Nickname:    cfg.Session.Nickname,
		DownloadDir: cfg.DownloadDir,
	})
}

func (a *app) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decode(w, r, &req); err != nil || req.Query == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "body must be {\"query\": \"...\"}"})
		return
	}

	entries, err := a.client.Search(r.Context(), req.Query)
	if err != nil {
		writeError(w, err)
		return
	}

	var results []enrich.Result
	if a.annotator != nil && r.URL.Query().Get("enrich") == "1" {
		results = a.annotator.Annotate(r.Context(), entries)
	} else {
		results = make([]enrich.Result, len(entries))
		for i, e := range entries {
			results[i].Entry = e
		}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

func (a *app) download(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := decode(w, r, &req); err != nil || req.Command == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "body must be {\"command\": \"...\"}"})
		return
	}

	d, err := a.client.Download(r.Context(), req.Command)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, client.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, client.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, client.ErrSearchTimeout), errors.Is(err, client.ErrDownloadTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, client.ErrNoListingFound), errors.Is(err, client.ErrNoMatches):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		log.Errorw("request failed", "error", err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnw("writing response", "error", err)
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debugw("request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}
