package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"chatkit-api/internal/services"
)

// RateLimiter rejects chat requests once the user's plan quota is spent.
// Every check recomputes the window from the ledger; no reservation is
// taken, so two in-flight requests near the boundary can both pass. That
// race is an accepted property of abuse mitigation, not a bug to close.
type RateLimiter struct {
	rateLimitService services.RateLimitService
}

func NewRateLimiter(rateLimitService services.RateLimitService) *RateLimiter {
	return &RateLimiter{rateLimitService: rateLimitService}
}

type rateLimitExceededResponse struct {
	Message          string `json:"message"`
	QueriesUsed      int    `json:"queries_used"`
	QueriesLimit     int    `json:"queries_limit"`
	WindowHours      int    `json:"window_hours"`
	QueriesRemaining int    `json:"queries_remaining"`
	Plan             string `json:"plan"`
}

func (rl *RateLimiter) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := services.UserFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		status, err := rl.rateLimitService.Check(r.Context(), user, time.Now())
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(status.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(status.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.Itoa(status.WindowHours))

		if !status.Allowed {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(rateLimitExceededResponse{
				Message: fmt.Sprintf(
					"Rate limit exceeded. You have used %d of %d queries in the last %d hours.",
					status.Used, status.Limit, status.WindowHours),
				QueriesUsed:      status.Used,
				QueriesLimit:     status.Limit,
				WindowHours:      status.WindowHours,
				QueriesRemaining: status.Remaining,
				Plan:             status.PlanName,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
