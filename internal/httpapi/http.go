// Package httpapi serves the public JSON API under /api and the operator
// endpoints under /ops.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"mtblotter/internal/backfill"
	"mtblotter/internal/config"
	"mtblotter/internal/jobs"
	"mtblotter/internal/metrics"
	"mtblotter/internal/notify"
	"mtblotter/internal/queue"
	"mtblotter/internal/store"
)

// Router holds the handlers' collaborators.
type Router struct {
	cfg      config.Config
	store    *store.Store
	runner   *jobs.Runner
	q        *queue.Queue
	metrics  *metrics.Metrics
	notifier *notify.Notifier
	backfill *backfill.Backfill
	validate *validator.Validate
	log      zerolog.Logger
	started  time.Time
}

func NewRouter(cfg config.Config, st *store.Store, runner *jobs.Runner, q *queue.Queue, m *metrics.Metrics, notifier *notify.Notifier, bf *backfill.Backfill, logger zerolog.Logger) *Router {
	return &Router{
		cfg:      cfg,
		store:    st,
		runner:   runner,
		q:        q,
		metrics:  m,
		notifier: notifier,
		backfill: bf,
		validate: validator.New(),
		log:      logger.With().Str("component", "httpapi").Logger(),
		started:  time.Now(),
	}
}

// Routes builds the handler tree. CORS is wide open on /api, which serves
// public data; /ops stays same-origin.
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
		r.Get("/posts", rt.listPosts)
		r.Get("/posts/{id}", rt.getPost)
		r.Get("/counties", rt.counties)
		r.Get("/agencies", rt.agencies)
		r.Get("/records", rt.listRecords)
		r.Get("/records/{id}", rt.getRecord)
		r.Get("/arrests", rt.arrests)
		r.Get("/blotters", rt.listBlotters)
		r.Get("/blotters/{id}", rt.getBlotter)
		r.Post("/blotters", rt.uploadBlotter)
		r.Get("/stats", rt.dashboard)
		r.Get("/analytics", rt.analytics)
		r.Post("/subscribe", rt.subscribe)
		r.Get("/unsubscribe", rt.unsubscribe)
	})

	r.Route("/ops", func(r chi.Router) {
		r.Get("/health", rt.health)
		r.Get("/status", rt.status)
		r.Get("/jobs", rt.listJobs)
		r.Get("/jobs/{id}", rt.getJob)
		r.Get("/logs", rt.streamLogs)
		r.Get("/subscribers", rt.listSubscribers)
		r.Post("/reprocess", rt.reprocess)
		r.Post("/backfill", rt.runBackfill)
		r.Post("/digest", rt.runDigest)
		r.Post("/reset", rt.reset)
	})

	return r
}

func (rt *Router) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		rt.log.Debug().Err(err).Msg("write response")
	}
}

func (rt *Router) respondError(w http.ResponseWriter, status int, msg string) {
	rt.respondJSON(w, status, map[string]string{"error": msg})
}

// fail translates store errors into responses without leaking internals.
func (rt *Router) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		rt.respondError(w, http.StatusNotFound, "not found")
		return
	}
	rt.log.Error().Err(err).Msg("request failed")
	rt.respondError(w, http.StatusInternalServerError, "internal error")
}

func urlID(req *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
}

func queryInt(req *http.Request, key string, fallback int) int {
	raw := req.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
