package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/requiemdev/requiem/internal/hrid"
	"github.com/requiemdev/requiem/internal/requirement"
	"github.com/requiemdev/requiem/internal/store"
	"github.com/requiemdev/requiem/internal/tree"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// Handler wires the requirement store into HTTP handlers.
type Handler struct {
	store *store.Store

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(s *store.Store, opts ...HandlerOption) *Handler {
	h := &Handler{
		store: s,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:       "ok",
		Timestamp:    h.clock(),
		Requirements: h.store.Len(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListRequirements(w http.ResponseWriter, r *http.Request) {
	kind := strings.TrimSpace(r.URL.Query().Get("kind"))

	reqs := h.store.All()
	views := make([]requirementView, 0, len(reqs))
	for _, req := range reqs {
		if kind != "" && req.Hrid().Kind != kind {
			continue
		}
		views = append(views, newRequirementView(req, h.store.Digits()))
	}

	resp := requirementsResponse{
		Requirements: views,
		Count:        len(views),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetRequirement(w http.ResponseWriter, r *http.Request) {
	id, err := hrid.Parse(r.PathValue("hrid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid requirement ID", err.Error())
		return
	}

	req, ok := h.store.RequirementByHrid(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Requirement not found",
			fmt.Sprintf("no requirement with ID %s", id.Format(h.store.Digits())))
		return
	}

	writeJSON(w, http.StatusOK, newRequirementView(req, h.store.Digits()))
}

func (h *Handler) handleAddRequirement(w http.ResponseWriter, r *http.Request) {
	var body addRequirementRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	kind := strings.TrimSpace(body.Kind)
	if kind == "" {
		writeError(w, http.StatusBadRequest, "Invalid request", "kind must not be empty")
		return
	}

	req, err := h.store.Add(kind)
	if err != nil {
		if errors.Is(err, store.ErrKindNotAllowed) {
			suggestion := "Use one of the configured requirement kinds or extend allowed_kinds"
			writeError(w, http.StatusBadRequest, "Kind not allowed", err.Error(), suggestion)
			return
		}
		writeInternalError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newRequirementView(req, h.store.Digits()))
}

func (h *Handler) handleUpdateRequirement(w http.ResponseWriter, r *http.Request) {
	id, err := hrid.Parse(r.PathValue("hrid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid requirement ID", err.Error())
		return
	}

	var body updateRequirementRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	req, ok := h.store.RequirementByHrid(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Requirement not found",
			fmt.Sprintf("no requirement with ID %s", id.Format(h.store.Digits())))
		return
	}

	req.SetContent(body.Content)
	if body.Tags != nil {
		req.SetTags(body.Tags)
	}

	updated, err := h.store.Save(req)
	if err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Requirement not found", err.Error())
			return
		}
		writeInternalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newRequirementView(updated, h.store.Digits()))
}

func (h *Handler) handleLink(w http.ResponseWriter, r *http.Request) {
	var body linkRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	child, err := hrid.Parse(body.Child)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid child ID", err.Error())
		return
	}
	parent, err := hrid.Parse(body.Parent)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid parent ID", err.Error())
		return
	}

	req, linkErr := h.store.Link(child, parent)
	if linkErr != nil {
		switch {
		case errors.Is(linkErr, tree.ErrNotFound):
			writeError(w, http.StatusNotFound, "Requirement not found", linkErr.Error())
		case errors.Is(linkErr, tree.ErrSelfReference):
			writeError(w, http.StatusUnprocessableEntity, "Cannot link", linkErr.Error())
		case errors.Is(linkErr, tree.ErrCycle):
			suggestion := fmt.Sprintf("Linking %s under %s would make the hierarchy circular; reverse the direction or pick a different parent", child, parent)
			writeError(w, http.StatusUnprocessableEntity, "Cannot link", linkErr.Error(), suggestion)
		default:
			writeInternalError(w, linkErr)
		}
		return
	}

	writeJSON(w, http.StatusOK, newRequirementView(req, h.store.Digits()))
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type addRequirementRequest struct {
	Kind string `json:"kind"`
}

type updateRequirementRequest struct {
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}

type linkRequest struct {
	Child  string `json:"child"`
	Parent string `json:"parent"`
}

type parentView struct {
	UUID        string `json:"uuid"`
	Hrid        string `json:"hrid"`
	Fingerprint string `json:"fingerprint"`
}

type requirementView struct {
	UUID        string       `json:"uuid"`
	Hrid        string       `json:"hrid"`
	Created     time.Time    `json:"created"`
	Tags        []string     `json:"tags,omitempty"`
	Fingerprint string       `json:"fingerprint"`
	Parents     []parentView `json:"parents,omitempty"`
	Content     string       `json:"content"`
}

func newRequirementView(req *requirement.Requirement, digits int) requirementView {
	parents := req.Parents()
	views := make([]parentView, 0, len(parents))
	for _, parentUUID := range req.ParentUUIDs() {
		parent := parents[parentUUID]
		views = append(views, parentView{
			UUID:        parentUUID.String(),
			Hrid:        parent.Hrid.Format(digits),
			Fingerprint: parent.Fingerprint,
		})
	}

	return requirementView{
		UUID:        req.UUID().String(),
		Hrid:        req.Hrid().Format(digits),
		Created:     req.Created(),
		Tags:        req.Tags(),
		Fingerprint: req.Fingerprint(),
		Parents:     views,
		Content:     req.Content(),
	}
}

type requirementsResponse struct {
	Requirements []requirementView `json:"requirements"`
	Count        int               `json:"count"`
}

type healthResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Requirements int       `json:"requirements"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
