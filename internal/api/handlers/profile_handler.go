package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"chatkit-api/internal/pkg/errors"
	"chatkit-api/internal/repository"
	"chatkit-api/internal/services"
)

type ProfileHandler struct {
	profileRepo repository.ProfileRepository
}

func NewProfileHandler(profileRepo repository.ProfileRepository) *ProfileHandler {
	return &ProfileHandler{
		profileRepo: profileRepo,
	}
}

type updateProfileRequest struct {
	TimeZone    *string `json:"time_zone,omitempty"`
	Language    *string `json:"language,omitempty"`
	Preferences *string `json:"preferences,omitempty"`
}

func (h *ProfileHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, ok := services.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	profile, err := h.profileRepo.GetByUserID(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			http.Error(w, "Profile not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(profile)
}

func (h *ProfileHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	user, ok := services.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	profile, err := h.profileRepo.GetByUserID(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			http.Error(w, "Profile not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if req.TimeZone != nil {
		profile.TimeZone = *req.TimeZone
	}
	if req.Language != nil {
		profile.Language = *req.Language
	}
	if req.Preferences != nil {
		profile.Preferences = *req.Preferences
	}
	profile.UpdatedAt = time.Now()

	if err := h.profileRepo.Update(r.Context(), profile); err != nil {
		http.Error(w, "Failed to update profile", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(profile)
}
