package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"mtblotter/internal/jobs"
	"mtblotter/internal/store"
	"mtblotter/internal/watch"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

func (rt *Router) listPosts(w http.ResponseWriter, req *http.Request) {
	qv := req.URL.Query()
	f := store.PostFilter{
		County:     qv.Get("county"),
		AgencyType: qv.Get("agency_type"),
		DateFrom:   qv.Get("date_from"),
		DateTo:     qv.Get("date_to"),
		Search:     qv.Get("search"),
		Page:       queryInt(req, "page", 1),
		PerPage:    queryInt(req, "per_page", defaultPerPage),
	}
	if f.PerPage > maxPerPage {
		f.PerPage = maxPerPage
	}
	posts, total, err := rt.store.ListPosts(req.Context(), f)
	if err != nil {
		rt.fail(w, err)
		return
	}
	if posts == nil {
		posts = []store.Post{}
	}
	totalPages := (total + f.PerPage - 1) / f.PerPage
	rt.respondJSON(w, http.StatusOK, map[string]any{
		"posts":       posts,
		"total":       total,
		"page":        f.Page,
		"per_page":    f.PerPage,
		"total_pages": totalPages,
	})
}

func (rt *Router) getPost(w http.ResponseWriter, req *http.Request) {
	id, err := urlID(req)
	if err != nil {
		rt.respondError(w, http.StatusNotFound, "not found")
		return
	}
	post, err := rt.store.GetPost(req.Context(), id)
	if err != nil {
		rt.fail(w, err)
		return
	}
	rt.respondJSON(w, http.StatusOK, post)
}

func (rt *Router) counties(w http.ResponseWriter, req *http.Request) {
	stats, err := rt.store.CountyStats(req.Context())
	if err != nil {
		rt.fail(w, err)
		return
	}
	if stats == nil {
		stats = []store.CountyStat{}
	}
	rt.respondJSON(w, http.StatusOK, map[string]any{"counties": stats})
}

func (rt *Router) agencies(w http.ResponseWriter, req *http.Request) {
	stats, err := rt.store.AgencyStats(req.Context())
	if err != nil {
		rt.fail(w, err)
		return
	}
	if stats == nil {
		stats = []store.AgencyStat{}
	}
	rt.respondJSON(w, http.StatusOK, map[string]any{"agencies": stats})
}

func (rt *Router) listRecords(w http.ResponseWriter, req *http.Request) {
	rt.serveRecords(w, req, false)
}

func (rt *Router) arrests(w http.ResponseWriter, req *http.Request) {
	rt.serveRecords(w, req, true)
}

func (rt *Router) serveRecords(w http.ResponseWriter, req *http.Request, arrests bool) {
	qv := req.URL.Query()
	page := queryInt(req, "page", 1)
	perPage := queryInt(req, "per_page", defaultPerPage)
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	f := store.RecordFilter{
		County:  qv.Get("county"),
		Date:    qv.Get("date"),
		Search:  qv.Get("search"),
		Arrests: arrests,
		Limit:   perPage,
		Offset:  (page - 1) * perPage,
	}
	records, total, err := rt.store.ListRecords(req.Context(), f)
	if err != nil {
		rt.fail(w, err)
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	rt.respondJSON(w, http.StatusOK, map[string]any{
		"records":  records,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

func (rt *Router) getRecord(w http.ResponseWriter, req *http.Request) {
	id, err := urlID(req)
	if err != nil {
		rt.respondError(w, http.StatusNotFound, "not found")
		return
	}
	rec, err := rt.store.GetRecord(req.Context(), id)
	if err != nil {
		rt.fail(w, err)
		return
	}
	rt.respondJSON(w, http.StatusOK, rec)
}

func (rt *Router) listBlotters(w http.ResponseWriter, req *http.Request) {
	page := queryInt(req, "page", 1)
	perPage := queryInt(req, "per_page", defaultPerPage)
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	blotters, err := rt.store.ListBlotters(req.Context(), perPage, (page-1)*perPage)
	if err != nil {
		rt.fail(w, err)
		return
	}
	if blotters == nil {
		blotters = []store.Blotter{}
	}
	rt.respondJSON(w, http.StatusOK, map[string]any{
		"blotters": blotters,
		"page":     page,
		"per_page": perPage,
	})
}

func (rt *Router) getBlotter(w http.ResponseWriter, req *http.Request) {
	id, err := urlID(req)
	if err != nil {
		rt.respondError(w, http.StatusNotFound, "not found")
		return
	}
	b, err := rt.store.GetBlotter(req.Context(), id)
	if err != nil {
		rt.fail(w, err)
		return
	}
	rt.respondJSON(w, http.StatusOK, b)
}

// uploadBlotter saves a manually submitted file into the inbox and queues
// it, the same entry path watched files take.
func (rt *Router) uploadBlotter(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		rt.respondError(w, http.StatusBadRequest, "multipart form required")
		return
	}
	file, header, err := req.FormFile("file")
	if err != nil {
		rt.respondError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !watch.Ingestible(filename) {
		rt.respondError(w, http.StatusBadRequest, "unsupported file type")
		return
	}
	county := req.FormValue("county")
	destDir := rt.cfg.InboxDir
	if county != "" {
		destDir = filepath.Join(destDir, county)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		rt.fail(w, err)
		return
	}
	dest := filepath.Join(destDir, filename)
	out, err := os.Create(dest)
	if err != nil {
		rt.fail(w, err)
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		rt.fail(w, err)
		return
	}
	if err := out.Close(); err != nil {
		rt.fail(w, err)
		return
	}

	params := map[string]any{"path": dest, "county": county}
	job, err := rt.runner.Enqueue(req.Context(), "upload", filename, jobs.StageExtract, params)
	if err != nil {
		rt.fail(w, err)
		return
	}
	rt.log.Info().Str("file", filename).Str("county", county).Msg("blotter uploaded")
	rt.respondJSON(w, http.StatusAccepted, map[string]any{"job": job, "filename": filename})
}

func (rt *Router) dashboard(w http.ResponseWriter, req *http.Request) {
	stats, err := rt.store.Dashboard(req.Context())
	if err != nil {
		rt.fail(w, err)
		return
	}
	rt.respondJSON(w, http.StatusOK, stats)
}

func (rt *Router) analytics(w http.ResponseWriter, req *http.Request) {
	days := queryInt(req, "days", 30)
	if days > 365 {
		days = 365
	}
	stats, err := rt.store.Analytics(req.Context(), days)
	if err != nil {
		rt.fail(w, err)
		return
	}
	rt.respondJSON(w, http.StatusOK, stats)
}

type subscribeRequest struct {
	Email    string   `json:"email" validate:"required,email"`
	Counties []string `json:"counties" validate:"dive,min=1"`
}

func (rt *Router) subscribe(w http.ResponseWriter, req *http.Request) {
	var body subscribeRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		rt.respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := rt.validate.Struct(body); err != nil {
		rt.respondError(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	sub, err := rt.store.UpsertSubscriber(req.Context(), body.Email, body.Counties)
	if err != nil {
		rt.fail(w, err)
		return
	}
	rt.respondJSON(w, http.StatusOK, sub)
}

func (rt *Router) unsubscribe(w http.ResponseWriter, req *http.Request) {
	token := req.URL.Query().Get("token")
	if token == "" {
		rt.respondError(w, http.StatusBadRequest, "token required")
		return
	}
	if err := rt.store.Unsubscribe(req.Context(), token); err != nil {
		rt.fail(w, err)
		return
	}
	rt.respondJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}
