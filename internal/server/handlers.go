package server

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/conneroisu/pagegraph/internal/artifact"
	"github.com/conneroisu/pagegraph/internal/build"
	"github.com/conneroisu/pagegraph/internal/errors"
	"github.com/conneroisu/pagegraph/internal/types"
)

const maxBodyBytes = 1 << 20

// PageView is the JSON form of a page.
type PageView struct {
	ID                   types.PageID            `json:"id"`
	Fullpath             string                  `json:"fullpath"`
	RawTemplate          string                  `json:"raw_template,omitempty"`
	TemplateDependencies []types.PageID          `json:"template_dependencies"`
	SnippetDependencies  []types.SnippetID       `json:"snippet_dependencies"`
	EditableElements     []types.EditableElement `json:"editable_elements,omitempty"`
	Errors               []string                `json:"errors,omitempty"`
}

func newPageView(page *types.Page, withSource bool) PageView {
	view := PageView{
		ID:                   page.ID,
		Fullpath:             page.Fullpath,
		TemplateDependencies: page.TemplateDependencies,
		SnippetDependencies:  page.SnippetDependencies,
		EditableElements:     page.EditableElements,
	}
	if withSource {
		view.RawTemplate = page.RawTemplate
	}
	for _, ce := range page.ParsingErrors() {
		view.Errors = append(view.Errors, ce.Error())
	}
	return view
}

type putPageRequest struct {
	Fullpath string `json:"fullpath"`
	Template string `json:"template"`
}

type putSnippetRequest struct {
	Slug     string `json:"slug"`
	Template string `json:"template"`
}

type errorResponse struct {
	Error  string              `json:"error"`
	Code   string              `json:"code,omitempty"`
	Fields map[string][]string `json:"fields,omitempty"`
	Page   *PageView           `json:"page,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		s.health.ServeHTTP(w, r)
		return
	}
	clients := 0
	if s.hub != nil {
		clients = s.hub.Clients()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"site":    s.siteID,
		"clients": clients,
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	pages, err := s.pages.ListPages(r.Context(), s.siteID)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	views := make([]PageView, 0, len(pages))
	for _, p := range pages {
		views = append(views, newPageView(p, false))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	fullpath := r.URL.Query().Get("fullpath")
	if fullpath == "" {
		s.writeError(w, r, errors.NewValidationError(errors.ErrCodeValidationFailed, "fullpath query parameter is required"), nil)
		return
	}
	page, err := s.pages.GetPage(r.Context(), s.siteID, fullpath)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, newPageView(page, true))
}

func (s *Server) handleDependents(w http.ResponseWriter, r *http.Request) {
	fullpath := r.URL.Query().Get("fullpath")
	if fullpath == "" {
		s.writeError(w, r, errors.NewValidationError(errors.ErrCodeValidationFailed, "fullpath query parameter is required"), nil)
		return
	}
	pages, err := s.pages.Dependents(r.Context(), s.siteID, fullpath)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	views := make([]PageView, 0, len(pages))
	for _, p := range pages {
		views = append(views, newPageView(p, false))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handlePutPage(w http.ResponseWriter, r *http.Request) {
	var req putPageRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.pages.PutPage(r.Context(), s.siteID, req.Fullpath, req.Template)
	if err != nil {
		var page *types.Page
		if result != nil {
			page = result.Page
		}
		s.writeError(w, r, err, page)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (s *Server) handlePutSnippet(w http.ResponseWriter, r *http.Request) {
	var req putSnippetRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.pages.SaveSnippet(r.Context(), s.siteID, req.Slug, req.Template)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

// metricsResponse is the body of GET /api/metrics.
type metricsResponse struct {
	build.MetricsSnapshot
	Artifacts *artifactStats `json:"artifacts,omitempty"`
}

type artifactStats struct {
	artifact.Stats
	HitRate float64 `json:"hit_rate"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var resp metricsResponse
	if s.metrics != nil {
		resp.MetricsSnapshot = s.metrics.Snapshot()
	}
	if s.shared != nil {
		stats := s.shared.Stats()
		resp.Artifacts = &artifactStats{Stats: stats, HitRate: stats.HitRate()}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// writeError maps err to a status code. Rejected templates answer 422 with
// the validation messages and the page's compile errors.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, page *types.Page) {
	resp := errorResponse{Error: err.Error()}

	var vec *errors.ValidationErrorCollection
	var pe *errors.PagegraphError
	status := http.StatusInternalServerError
	switch {
	case stderrors.As(err, &vec):
		status = http.StatusUnprocessableEntity
		resp.Fields = vec.Fields()
		if page != nil {
			view := newPageView(page, false)
			resp.Page = &view
		}
	case stderrors.As(err, &pe):
		resp.Code = pe.Code
		switch {
		case pe.Code == errors.ErrCodePageNotFound || pe.Code == errors.ErrCodeSiteNotFound:
			status = http.StatusNotFound
		case pe.Type == errors.ErrorTypeValidation:
			status = http.StatusBadRequest
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), err, "Request failed", "path", r.URL.Path)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
