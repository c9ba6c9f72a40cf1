// Package httpapi exposes the task store over HTTP with bearer-token access
// control. Handlers translate wire requests into store calls and map the
// domain error taxonomy onto status codes.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lherron/taskd/internal/domain"
	"github.com/lherron/taskd/internal/store"
	"github.com/lherron/taskd/internal/webhooks"
)

const basePath = "/task/v1"

// Server serves the task API.
type Server struct {
	store  *store.Store
	tokens map[string]bool
	hooks  *webhooks.Dispatcher
}

// New creates a Server. The token set is fixed at startup; an empty set
// disables authentication (local use, mirrors the daemon's token flag).
func New(st *store.Store, tokens []string, hooks *webhooks.Dispatcher) *Server {
	tokenSet := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		tokenSet[token] = true
	}
	if hooks == nil {
		hooks = webhooks.New(nil)
	}
	return &Server{store: st, tokens: tokenSet, hooks: hooks}
}

// Handler returns the route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+basePath+"/health", s.handleHealth)

	mux.HandleFunc("POST "+basePath+"/tasks", s.withAuth(s.handleCreate))
	mux.HandleFunc("GET "+basePath+"/tasks", s.withAuth(s.handleList))
	mux.HandleFunc("GET "+basePath+"/tasks/export", s.withAuth(s.handleExport))
	mux.HandleFunc("POST "+basePath+"/tasks/import", s.withAuth(s.handleImport))
	mux.HandleFunc("GET "+basePath+"/tasks/{id}", s.withAuth(s.handleGet))
	mux.HandleFunc("PATCH "+basePath+"/tasks/{id}", s.withAuth(s.handleUpdate))
	mux.HandleFunc("DELETE "+basePath+"/tasks/{id}", s.withAuth(s.handleDelete))

	return s.withLogging(mux)
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.tokens) > 0 {
			token := r.Header.Get("Authorization")
			token = strings.TrimPrefix(token, "Bearer ")
			if !s.tokens[token] {
				w.Header().Set("WWW-Authenticate", "Bearer")
				s.writeErrorBody(w, http.StatusUnauthorized, "unauthorized", "invalid authentication credentials")
				return
			}
		}

		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"code":    code,
		"message": message,
	})
}

// writeError maps domain errors onto the HTTP error surface. Anything not in
// the taxonomy is an unclassified internal failure.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var notFound *domain.NotFoundError
	var validation *domain.ValidationError
	var conflict *domain.ConflictError
	var precondition *domain.PreconditionFailedError

	switch {
	case errors.As(err, &notFound):
		s.writeErrorBody(w, http.StatusNotFound, "not_found", notFound.Error())
	case errors.As(err, &validation):
		body := map[string]interface{}{
			"code":    "validation_error",
			"message": validation.Message,
		}
		if len(validation.FieldErrors) > 0 {
			body["field_errors"] = validation.FieldErrors
		}
		s.writeJSON(w, http.StatusUnprocessableEntity, body)
	case errors.As(err, &conflict):
		ids, _ := json.Marshal(conflict.ConflictingIDs)
		w.Header().Set("X-Conflicting-IDs", string(ids))
		s.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"code":            "conflict",
			"message":         "one or more task ids already exist",
			"conflicting_ids": conflict.ConflictingIDs,
		})
	case errors.As(err, &precondition):
		s.writeErrorBody(w, http.StatusPreconditionFailed, "precondition_failed", precondition.Error())
	default:
		log.Printf("internal error: %v", err)
		s.writeErrorBody(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":   true,
		"time": domain.NowUTC(),
	})
}

type taskInput struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Completed   *bool           `json:"completed"`
	Archived    *bool           `json:"archived"`
	Priority    *int            `json:"priority"`
	DueDate     *string         `json:"due_date"`
	ParentID    *string         `json:"parent_id"`
	Tags        []string        `json:"tags"`
	Metadata    json.RawMessage `json:"metadata"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input taskInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		s.writeErrorBody(w, http.StatusUnprocessableEntity, "validation_error", "invalid request body: "+err.Error())
		return
	}

	if input.Title == nil {
		s.writeError(w, domain.NewFieldError("title", "is required"))
		return
	}

	params := store.CreateParams{
		Title:       *input.Title,
		Description: input.Description,
		DueDate:     input.DueDate,
		ParentID:    input.ParentID,
		Tags:        input.Tags,
		Metadata:    input.Metadata,
	}
	if input.Completed != nil {
		params.Completed = *input.Completed
	}
	if input.Archived != nil {
		params.Archived = *input.Archived
	}
	if input.Priority != nil {
		params.Priority = *input.Priority
	}

	task, err := s.store.Tasks.Create(params)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.hooks.NotifyAsync("task.created", task)

	w.Header().Set("Location", fmt.Sprintf("%s/tasks/%s", basePath, task.ID))
	s.writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOptions{
		SortBy: q.Get("sort_by"),
		Order:  q.Get("order"),
		Limit:  store.DefaultLimit,
	}

	var err error
	if opts.Completed, err = parseBoolParam(q.Get("completed"), "completed"); err != nil {
		s.writeError(w, err)
		return
	}
	if opts.Archived, err = parseBoolParam(q.Get("archived"), "archived"); err != nil {
		s.writeError(w, err)
		return
	}

	if raw := q.Get("priority"); raw != "" {
		priority, convErr := strconv.Atoi(raw)
		if convErr != nil {
			s.writeError(w, domain.NewFieldError("priority", "must be an integer"))
			return
		}
		if err := domain.ValidatePriority(priority); err != nil {
			s.writeError(w, err)
			return
		}
		opts.Priority = &priority
	}

	opts.Tags = q["tag"]

	// Absent (or the literal "null") means root tasks only.
	if raw := q.Get("parent_id"); raw != "" && raw != "null" {
		opts.ParentID = &raw
	}

	if search := q.Get("search"); search != "" {
		if utf8.RuneCountInString(search) > 500 {
			s.writeError(w, domain.NewFieldError("search", "must not exceed 500 characters"))
			return
		}
		opts.Search = search
	}

	opts.DueBefore = q.Get("due_before")
	opts.DueAfter = q.Get("due_after")

	if overdue, err := parseBoolParam(q.Get("overdue"), "overdue"); err != nil {
		s.writeError(w, err)
		return
	} else if overdue != nil {
		opts.Overdue = *overdue
	}

	if raw := q.Get("limit"); raw != "" {
		limit, convErr := strconv.Atoi(raw)
		if convErr != nil || limit < 1 || limit > store.MaxLimit {
			s.writeError(w, domain.NewFieldError("limit", "must be between 1 and 1000"))
			return
		}
		opts.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, convErr := strconv.Atoi(raw)
		if convErr != nil || offset < 0 {
			s.writeError(w, domain.NewFieldError("offset", "must be non-negative"))
			return
		}
		opts.Offset = offset
	}

	tasks, total, err := s.store.Tasks.List(opts)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   tasks,
		"total":  total,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.Tasks.Export()
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var records []domain.Task
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&records); err != nil {
		s.writeErrorBody(w, http.StatusUnprocessableEntity, "validation_error", "invalid request body: "+err.Error())
		return
	}

	q := r.URL.Query()
	opts := store.ImportOptions{
		OnConflict: q.Get("on_conflict"),
	}
	if validateOnly, err := parseBoolParam(q.Get("validate_only"), "validate_only"); err != nil {
		s.writeError(w, err)
		return
	} else if validateOnly != nil {
		opts.ValidateOnly = *validateOnly
	}

	result, err := s.store.Tasks.Import(records, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusCreated
	if result.ValidateOnly {
		status = http.StatusOK
	} else {
		s.hooks.NotifyAsync("tasks.imported", result)
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.Tasks.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("ETag", domain.ETag(task.UpdatedAt))
	s.writeJSON(w, http.StatusOK, task)
}

// patchFields are the fields a PATCH body may carry.
var patchFields = map[string]bool{
	"title": true, "description": true, "completed": true, "archived": true,
	"priority": true, "due_date": true, "parent_id": true, "tags": true,
	"metadata": true,
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		s.writeErrorBody(w, http.StatusUnprocessableEntity, "validation_error", "invalid request body: "+err.Error())
		return
	}

	fields := make(map[string]interface{}, len(raw))
	for key, value := range raw {
		if !patchFields[key] {
			s.writeError(w, domain.NewFieldError(key, "unknown field"))
			return
		}
		parsed, err := parsePatchField(key, value)
		if err != nil {
			s.writeError(w, err)
			return
		}
		fields[key] = parsed
	}

	pre := store.Preconditions{
		IfUnmodifiedSince: r.Header.Get("If-Unmodified-Since"),
		IfMatch:           r.Header.Get("If-Match"),
	}

	task, err := s.store.Tasks.Update(id, fields, pre)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.hooks.NotifyAsync("task.updated", task)

	w.Header().Set("ETag", domain.ETag(task.UpdatedAt))
	s.writeJSON(w, http.StatusOK, task)
}

// parsePatchField converts one JSON patch value into the store's typed
// representation. A JSON null becomes a typed nil, which clears the field.
func parsePatchField(key string, value json.RawMessage) (interface{}, error) {
	null := string(value) == "null"

	switch key {
	case "title":
		if null {
			return nil, domain.NewFieldError("title", "must not be null")
		}
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return nil, domain.NewFieldError(key, "must be a string")
		}
		return s, nil
	case "completed", "archived":
		if null {
			return nil, domain.NewFieldError(key, "must not be null")
		}
		var b bool
		if err := json.Unmarshal(value, &b); err != nil {
			return nil, domain.NewFieldError(key, "must be a boolean")
		}
		return b, nil
	case "priority":
		if null {
			return nil, domain.NewFieldError(key, "must not be null")
		}
		var p int
		if err := json.Unmarshal(value, &p); err != nil {
			return nil, domain.NewFieldError(key, "must be an integer")
		}
		return p, nil
	case "description", "due_date", "parent_id":
		if null {
			return (*string)(nil), nil
		}
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return nil, domain.NewFieldError(key, "must be a string or null")
		}
		return &s, nil
	case "tags":
		if null {
			return ([]string)(nil), nil
		}
		var tags []string
		if err := json.Unmarshal(value, &tags); err != nil {
			return nil, domain.NewFieldError(key, "must be an array of strings or null")
		}
		return tags, nil
	case "metadata":
		if null {
			return (json.RawMessage)(nil), nil
		}
		if !json.Valid(value) {
			return nil, domain.NewFieldError(key, "must be valid JSON")
		}
		return value, nil
	default:
		return nil, domain.NewFieldError(key, "unknown field")
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Tasks.Delete(id); err != nil {
		s.writeError(w, err)
		return
	}

	s.hooks.NotifyAsync("task.deleted", map[string]string{"id": id})

	w.WriteHeader(http.StatusNoContent)
}

// parseBoolParam parses an optional boolean query parameter.
func parseBoolParam(raw, name string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, domain.NewFieldError(name, "must be a boolean")
	}
	return &value, nil
}
