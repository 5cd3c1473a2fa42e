package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pesio-ai/be-plt-approvals/internal/client"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// UserIDHeader carries the authenticated caller. Authentication itself
// happens upstream (gateway).
const UserIDHeader = "X-User-ID"

// HTTPHandler exposes the approval service over HTTP.
type HTTPHandler struct {
	service  *service.ApprovalWorkflowService
	notifier *notifier
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler. publisher may be nil.
func NewHTTPHandler(svc *service.ApprovalWorkflowService, publisher *client.NotificationPublisher, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service:  svc,
		notifier: &notifier{service: svc, publisher: publisher, log: log},
		log:      log,
	}
}

// Routes mounts the approval API on a chi router.
func (h *HTTPHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/approvals", func(r chi.Router) {
		r.Post("/", h.StartApproval)
		r.Get("/", h.GetApprovalRecord)
		r.Get("/pending", h.ListPending)

		r.Route("/{recordID}", func(r chi.Router) {
			r.Get("/", h.GetRecord)
			r.Get("/current-step", h.GetCurrentStep)
			r.Get("/history", h.GetHistory)
			r.Post("/approve", h.Approve)
			r.Post("/reject", h.Reject)
			r.Post("/delegate", h.Delegate)
			r.Post("/withdraw", h.Withdraw)
		})
	})

	r.Route("/workflow-templates", func(r chi.Router) {
		r.Get("/", h.ListTemplates)
		r.Post("/", h.SaveTemplate)
		r.Get("/{templateID}", h.GetTemplate)
		r.Put("/{templateID}", h.SaveTemplate)
	})

	return r
}

// ── Approvals ─────────────────────────────────────────────────────────────────

// StartApproval handles POST /approvals
func (h *HTTPHandler) StartApproval(w http.ResponseWriter, r *http.Request) {
	var req service.StartApprovalRequest
	if err := readJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.InitiatorID == "" {
		req.InitiatorID = r.Header.Get(UserIDHeader)
	}

	rec, err := h.service.StartApproval(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.notifier.started(r.Context(), rec)
	writeJSON(w, http.StatusCreated, rec)
}

// GetApprovalRecord handles GET /approvals?entity_type=&entity_id=
func (h *HTTPHandler) GetApprovalRecord(w http.ResponseWriter, r *http.Request) {
	entityType := repository.EntityType(strings.ToUpper(r.URL.Query().Get("entity_type")))
	entityID := r.URL.Query().Get("entity_id")
	if entityID == "" {
		h.writeError(w, r, errors.InvalidInput("entity_id", "entity_id is required"))
		return
	}

	rec, err := h.service.GetApprovalRecord(r.Context(), entityType, entityID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if rec == nil {
		h.writeError(w, r, errors.NotFound("approval_record", repository.EntityRef{Type: entityType, ID: entityID}.String()))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetRecord handles GET /approvals/{recordID}
func (h *HTTPHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.GetRecord(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetCurrentStep handles GET /approvals/{recordID}/current-step
func (h *HTTPHandler) GetCurrentStep(w http.ResponseWriter, r *http.Request) {
	step, err := h.service.GetCurrentStep(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"current_step": step})
}

// GetHistory handles GET /approvals/{recordID}/history
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.GetApprovalHistory(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

// ListPending handles GET /approvals/pending?user_id=
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = r.Header.Get(UserIDHeader)
	}

	records, err := h.service.ListPendingForApprover(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"approvals": records, "total": len(records)})
}

// actionBody is the body shared by the transition endpoints.
type actionBody struct {
	ActorID         string `json:"actor_id,omitempty"`
	Comment         string `json:"comment,omitempty"`
	ExpectedVersion *int   `json:"expected_version,omitempty"`
	DelegateToID    string `json:"delegate_to_id,omitempty"`
}

func (h *HTTPHandler) actionRequest(r *http.Request) (service.ActionRequest, actionBody, error) {
	var body actionBody
	if err := readJSON(r, &body); err != nil {
		return service.ActionRequest{}, body, err
	}
	actor := r.Header.Get(UserIDHeader)
	if actor == "" {
		actor = body.ActorID
	}
	return service.ActionRequest{
		RecordID:        chi.URLParam(r, "recordID"),
		ActorID:         actor,
		Comment:         body.Comment,
		ExpectedVersion: body.ExpectedVersion,
	}, body, nil
}

// Approve handles POST /approvals/{recordID}/approve
func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	req, _, err := h.actionRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.service.ApproveStep(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.notifier.approved(r.Context(), rec, req.ActorID)
	writeJSON(w, http.StatusOK, rec)
}

// Reject handles POST /approvals/{recordID}/reject
func (h *HTTPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	req, _, err := h.actionRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.service.RejectStep(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.notifier.rejected(r.Context(), rec, req.ActorID, req.Comment)
	writeJSON(w, http.StatusOK, rec)
}

// Delegate handles POST /approvals/{recordID}/delegate
func (h *HTTPHandler) Delegate(w http.ResponseWriter, r *http.Request) {
	req, body, err := h.actionRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.service.DelegateStep(r.Context(), service.DelegateRequest{
		ActionRequest: req,
		DelegateToID:  body.DelegateToID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.notifier.delegated(r.Context(), rec, req.ActorID, body.DelegateToID)
	writeJSON(w, http.StatusOK, rec)
}

// Withdraw handles POST /approvals/{recordID}/withdraw
func (h *HTTPHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	req, _, err := h.actionRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// Approvers of the step being withdrawn are told afterwards; read them
	// before the record turns terminal.
	recipients := h.notifier.currentApprovers(r.Context(), req.RecordID)

	rec, err := h.service.WithdrawApproval(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.notifier.withdrawn(r.Context(), rec, req.ActorID, recipients)
	writeJSON(w, http.StatusOK, rec)
}

// ── Templates ─────────────────────────────────────────────────────────────────

// ListTemplates handles GET /workflow-templates?entity_type=&active_only=
func (h *HTTPHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	entityType := repository.EntityType(strings.ToUpper(r.URL.Query().Get("entity_type")))
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active_only"))

	templates, err := h.service.ListTemplates(r.Context(), entityType, activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if templates == nil {
		templates = []*repository.WorkflowTemplate{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"templates": templates, "total": len(templates)})
}

// GetTemplate handles GET /workflow-templates/{templateID}
func (h *HTTPHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.GetTemplate(r.Context(), chi.URLParam(r, "templateID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// SaveTemplate handles POST /workflow-templates and PUT /workflow-templates/{templateID}
func (h *HTTPHandler) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	var t repository.WorkflowTemplate
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid template: "+err.Error()))
		return
	}

	status := http.StatusCreated
	if id := chi.URLParam(r, "templateID"); id != "" {
		t.ID = id
		status = http.StatusOK
	}

	if err := h.service.SaveTemplate(r.Context(), &t); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, status, &t)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func readJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return errors.InvalidInput("body", "invalid request body: "+err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {"request_id", "error": {code, message, details}}
// with the status its code maps to.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	status := errors.HTTPStatus(code)

	message := err.Error()
	var details map[string]interface{}
	var e *errors.Error
	if errors.As(err, &e) {
		message = e.Message
		details = e.Details
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		message = "internal error"
		details = nil
	}

	writeJSON(w, status, map[string]interface{}{
		"request_id": middleware.GetReqID(r.Context()),
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
