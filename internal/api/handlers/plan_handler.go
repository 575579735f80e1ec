package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"chatkit-api/internal/models"
	"chatkit-api/internal/pkg/errors"
	"chatkit-api/internal/services"

	"github.com/gorilla/mux"
)

// PlanHandler manages rate-limit tiers. Mutating routes are admin only.
type PlanHandler struct {
	planService services.PlanService
}

func NewPlanHandler(planService services.PlanService) *PlanHandler {
	return &PlanHandler{
		planService: planService,
	}
}

type planRequest struct {
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	QueryLimit       int    `json:"query_limit"`
	QueryWindowHours int    `json:"query_window_hours"`
}

func (h *PlanHandler) List(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	plans, err := h.planService.List(r.Context(), includeInactive)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(plans)
}

func (h *PlanHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	plan := &models.Plan{
		Name:             req.Name,
		Description:      req.Description,
		QueryLimit:       req.QueryLimit,
		QueryWindowHours: req.QueryWindowHours,
		IsActive:         true,
	}

	if err := h.planService.Create(r.Context(), plan); err != nil {
		if errors.Is(err, errors.ErrInvalidInput) {
			http.Error(w, "Plan requires a name, a positive query limit and a positive window", http.StatusBadRequest)
			return
		}
		http.Error(w, "Failed to create plan", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(plan)
}

func (h *PlanHandler) Update(w http.ResponseWriter, r *http.Request) {
	planID, err := parsePlanID(r)
	if err != nil {
		http.Error(w, "Invalid plan ID", http.StatusBadRequest)
		return
	}

	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	plan, err := h.planService.GetByID(r.Context(), planID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			http.Error(w, "Plan not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if req.Name != "" {
		plan.Name = req.Name
	}
	if req.Description != "" {
		plan.Description = req.Description
	}
	if req.QueryLimit != 0 {
		plan.QueryLimit = req.QueryLimit
	}
	if req.QueryWindowHours != 0 {
		plan.QueryWindowHours = req.QueryWindowHours
	}

	if err := h.planService.Update(r.Context(), plan); err != nil {
		http.Error(w, "Failed to update plan", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(plan)
}

func (h *PlanHandler) SetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		planID, err := parsePlanID(r)
		if err != nil {
			http.Error(w, "Invalid plan ID", http.StatusBadRequest)
			return
		}

		plan, err := h.planService.SetActive(r.Context(), planID, active)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				http.Error(w, "Plan not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Failed to update plan", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(plan)
	}
}

func parsePlanID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
