package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement/internal/repository"
)

// Administrative endpoints for approval rules and budget buckets.

// Rules handles approval rule HTTP requests
func (h *HTTPHandler) Rules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getRules(w, r)
	case http.MethodPost:
		h.createRule(w, r)
	case http.MethodPut:
		h.updateRule(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) getRules(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		rule, err := h.service.GetRule(r.Context(), id)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, rule)
		return
	}

	kind := repository.DocumentKind(r.URL.Query().Get("kind"))
	rules, err := h.service.ListRules(r.Context(), kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (h *HTTPHandler) createRule(w http.ResponseWriter, r *http.Request) {
	var rule repository.ApprovalRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.service.CreateRule(r.Context(), &rule)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *HTTPHandler) updateRule(w http.ResponseWriter, r *http.Request) {
	var rule repository.ApprovalRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.service.UpdateRule(r.Context(), &rule)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// Budgets handles budget bucket HTTP requests
func (h *HTTPHandler) Budgets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getBudget(w, r)
	case http.MethodPost:
		h.createBudget(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) getBudget(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, err := strconv.Atoi(q.Get("fiscal_year"))
	if err != nil || q.Get("cost_center_id") == "" || q.Get("gl_account_id") == "" {
		http.Error(w, "cost_center_id, gl_account_id and fiscal_year are required", http.StatusBadRequest)
		return
	}

	bucket, err := h.service.GetBudgetBucket(r.Context(), q.Get("cost_center_id"), q.Get("gl_account_id"), year)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bucket)
}

func (h *HTTPHandler) createBudget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CostCenterID    string          `json:"cost_center_id"`
		GLAccountID     string          `json:"gl_account_id"`
		FiscalYear      int             `json:"fiscal_year"`
		AmountAllocated decimal.Decimal `json:"amount_allocated"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	bucket, err := h.service.CreateBudgetBucket(r.Context(), req.CostCenterID, req.GLAccountID, req.FiscalYear, req.AmountAllocated)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, bucket)
}
