package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement/internal/errors"
	"github.com/pesio-ai/be-procurement/internal/logger"
	"github.com/pesio-ai/be-procurement/internal/repository"
	"github.com/pesio-ai/be-procurement/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	service *service.ProcurementService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(service *service.ProcurementService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		log:     log,
	}
}

// actorFrom builds the acting identity from the gateway headers. The API
// gateway authenticates the caller and forwards identity as X-User-ID and
// role membership as a comma-separated X-User-Roles.
func actorFrom(r *http.Request) (service.StaticActor, bool) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		return service.StaticActor{}, false
	}
	var roles []string
	for _, role := range strings.Split(r.Header.Get("X-User-Roles"), ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return service.StaticActor{ID: id, Roles: roles}, true
}

func refFrom(r *http.Request) (repository.DocumentRef, bool) {
	ref := repository.DocumentRef{
		Kind: repository.DocumentKind(r.URL.Query().Get("kind")),
		ID:   r.URL.Query().Get("id"),
	}
	if ref.ID == "" || !ref.Kind.Valid() {
		return repository.DocumentRef{}, false
	}
	return ref, true
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case errors.ErrCodeConflict:
		status = http.StatusConflict
	case errors.ErrCodeUnauthorized:
		status = http.StatusUnauthorized
	case errors.ErrCodeForbidden:
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	h.writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"code":  string(errors.CodeOf(err)),
	})
}

// CreateRequisition handles create requisition HTTP requests
func (h *HTTPHandler) CreateRequisition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "X-User-ID header is required", http.StatusUnauthorized)
		return
	}

	var req service.CreateRequisitionInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.CreatedBy = actor.ID

	doc, err := h.service.CreateRequisition(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, doc)
}

// GetDocument handles get document HTTP requests
func (h *HTTPHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ref, ok := refFrom(r)
	if !ok {
		http.Error(w, "Document kind and ID are required", http.StatusBadRequest)
		return
	}

	doc, err := h.service.GetDocument(r.Context(), ref)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// SubmitDocument handles submit for approval HTTP requests
func (h *HTTPHandler) SubmitDocument(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(ref repository.DocumentRef, actor service.StaticActor, _ string) (any, error) {
		return h.service.Submit(r.Context(), ref, actor)
	}, false)
}

// ApproveDocument handles approve HTTP requests
func (h *HTTPHandler) ApproveDocument(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(ref repository.DocumentRef, actor service.StaticActor, remarks string) (any, error) {
		var remarksPtr *string
		if remarks != "" {
			remarksPtr = &remarks
		}
		return h.service.Approve(r.Context(), ref, actor, remarksPtr)
	}, false)
}

// RejectDocument handles reject HTTP requests
func (h *HTTPHandler) RejectDocument(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(ref repository.DocumentRef, actor service.StaticActor, reason string) (any, error) {
		return h.service.Reject(r.Context(), ref, actor, reason)
	}, true)
}

// CancelDocument handles cancel HTTP requests
func (h *HTTPHandler) CancelDocument(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(ref repository.DocumentRef, actor service.StaticActor, reason string) (any, error) {
		return h.service.Cancel(r.Context(), ref, actor, reason)
	}, false)
}

// ConvertToOrder handles requisition-to-order conversion HTTP requests
func (h *HTTPHandler) ConvertToOrder(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(ref repository.DocumentRef, actor service.StaticActor, _ string) (any, error) {
		return h.service.ConvertToOrder(r.Context(), ref, actor)
	}, false)
}

// lifecycle factors the shared shape of the POST lifecycle endpoints: decode
// {kind, id, remarks}, resolve the actor, dispatch, write the result.
func (h *HTTPHandler) lifecycle(w http.ResponseWriter, r *http.Request, fn func(repository.DocumentRef, service.StaticActor, string) (any, error), remarksRequired bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "X-User-ID header is required", http.StatusUnauthorized)
		return
	}

	var req struct {
		Kind    repository.DocumentKind `json:"kind"`
		ID      string                  `json:"id"`
		Remarks string                  `json:"remarks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" || !req.Kind.Valid() {
		http.Error(w, "Document kind and ID are required", http.StatusBadRequest)
		return
	}
	if remarksRequired && req.Remarks == "" {
		http.Error(w, "Remarks are required", http.StatusBadRequest)
		return
	}

	result, err := fn(repository.DocumentRef{Kind: req.Kind, ID: req.ID}, actor, req.Remarks)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GenerateNumber handles next-document-number HTTP requests
func (h *HTTPHandler) GenerateNumber(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Kind repository.DocumentKind `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	number, err := h.service.GenerateNumber(r.Context(), req.Kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"number": number})
}

// GetApprovalChain handles approval chain HTTP requests
func (h *HTTPHandler) GetApprovalChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ref, ok := refFrom(r)
	if !ok {
		http.Error(w, "Document kind and ID are required", http.StatusBadRequest)
		return
	}

	chain, err := h.service.ChainFor(r.Context(), ref)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"approvals": chain})
}

// ListPendingApprovals handles pending approval work queue HTTP requests
func (h *HTTPHandler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	role := r.URL.Query().Get("role")
	pending, err := h.service.PendingForRole(r.Context(), role)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"approvals": pending})
}

// GetAuditTrail handles audit trail HTTP requests
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ref, ok := refFrom(r)
	if !ok {
		http.Error(w, "Document kind and ID are required", http.StatusBadRequest)
		return
	}

	trail, err := h.service.AuditTrailFor(r.Context(), ref)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": trail})
}

// ConvertAmount handles currency conversion HTTP requests
func (h *HTTPHandler) ConvertAmount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Amount    decimal.Decimal  `json:"amount"`
		Currency  string           `json:"currency"`
		Direction string           `json:"direction"`
		Rate      *decimal.Decimal `json:"rate,omitempty"`
		AsOf      *time.Time       `json:"as_of,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Currency == "" {
		http.Error(w, "Currency is required", http.StatusBadRequest)
		return
	}
	if req.Direction == "" {
		req.Direction = string(service.ConvertToBase)
	}

	converted, err := h.service.Convert(r.Context(), req.Amount, req.Currency,
		service.ConvertDirection(req.Direction),
		service.ConvertOptions{ManualRate: req.Rate, AsOf: req.AsOf})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"amount":    req.Amount,
		"currency":  req.Currency,
		"direction": req.Direction,
		"converted": converted,
	})
}

// RecordRate handles exchange rate recording HTTP requests
func (h *HTTPHandler) RecordRate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "X-User-ID header is required", http.StatusUnauthorized)
		return
	}

	var req struct {
		Currency  string          `json:"currency"`
		Rate      decimal.Decimal `json:"rate"`
		ValidFrom time.Time       `json:"valid_from"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Currency == "" {
		http.Error(w, "Currency is required", http.StatusBadRequest)
		return
	}
	if req.ValidFrom.IsZero() {
		req.ValidFrom = time.Now()
	}

	rate, err := h.service.RecordRate(r.Context(), req.Currency, req.Rate, req.ValidFrom, actor.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, rate)
}
