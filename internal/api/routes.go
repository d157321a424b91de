// Package api serves the collected data read-only over HTTP and MCP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/financevibe/fdv/internal/freshness"
	"github.com/financevibe/fdv/internal/storage"
)

const defaultPriceWindowDays = 30

// ReadStore is the slice of the store the API reads from.
type ReadStore interface {
	ListEntities(market string) ([]storage.Entity, error)
	GetEntity(id string) (storage.Entity, error)
	GetCollectionMetadata(entityID string) (storage.CollectionMetadata, error)
	ListPrices(entityID string, from, to time.Time) ([]storage.PriceRecord, error)
	CountPrices(entityID string) (int, error)
	ListNews(entityID string, limit, offset int) ([]storage.NewsArticle, error)
	CountNews(entityID string) (int, error)
	ListRuns(kind string, limit int) ([]storage.Run, error)
}

type Deps struct {
	Store ReadStore
	Gate  *freshness.Gate
	Token string
	// Today returns the reference day for freshness checks and default
	// price windows.
	Today func() freshness.Date
}

// NewHandler returns the HTTP API. Everything except /health requires the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/entities", handleListEntities(deps))
		r.Get("/entities/{id}/metadata", handleGetMetadata(deps))
		r.Get("/entities/{id}/prices", handleListPrices(deps))
		r.Get("/news", handleListNews(deps))
		r.Get("/runs", handleListRuns(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleListEntities(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entities, err := deps.Store.ListEntities(r.URL.Query().Get("market"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list entities: %v", err)
			return
		}
		writeJSON(w, viewAll(entities, viewEntity))
	}
}

func handleGetMetadata(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !entityExists(w, deps, id) {
			return
		}

		v, err := entityStatus(deps, id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load metadata: %v", err)
			return
		}
		writeJSON(w, v)
	}
}

func handleListPrices(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		to, ok := dateParam(w, r, "to", deps.Today())
		if !ok {
			return
		}
		from, ok := dateParam(w, r, "from", to.AddDays(-defaultPriceWindowDays))
		if !ok {
			return
		}
		if to.Before(from) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "from %s is after to %s", from, to)
			return
		}
		if !entityExists(w, deps, id) {
			return
		}

		prices, err := deps.Store.ListPrices(id, from.Time(), to.Time())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list prices: %v", err)
			return
		}
		writeJSON(w, viewAll(prices, viewPrice))
	}
}

func handleListNews(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		articles, err := deps.Store.ListNews(r.URL.Query().Get("entity"), limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list news: %v", err)
			return
		}
		writeJSON(w, viewAll(articles, viewNews))
	}
}

func handleListRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 10, 100)

		runs, err := deps.Store.ListRuns(r.URL.Query().Get("kind"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}
		writeJSON(w, viewAll(runs, viewRun))
	}
}

func entityExists(w http.ResponseWriter, deps Deps, id string) bool {
	_, err := deps.Store.GetEntity(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "entity %s not found", id)
		return false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get entity: %v", err)
		return false
	}
	return true
}

// entityStatus combines the stored metadata with the range the next
// collection would fetch.
func entityStatus(deps Deps, id string) (metadataView, error) {
	var meta *storage.CollectionMetadata
	m, err := deps.Store.GetCollectionMetadata(id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return metadataView{}, err
	default:
		meta = &m
	}

	rng, err := deps.Gate.Check(id, deps.Today())
	if err != nil {
		return metadataView{}, err
	}
	return viewMetadata(id, meta, rng), nil
}

func dateParam(w http.ResponseWriter, r *http.Request, key string, def freshness.Date) (freshness.Date, bool) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, true
	}
	d, err := freshness.ParseDate(s)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid %s: %v", key, err)
		return freshness.Date{}, false
	}
	return d, true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
