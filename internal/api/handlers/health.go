package handlers

import (
	"net/http"
	"time"

	"github.com/vitaliisemenov/etl-signal-loader/internal/database/postgres"
)

type healthResponse struct {
	Status string                 `json:"status"`
	Time   time.Time              `json:"time"`
	Checks map[string]checkResult `json:"checks"`
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Health implements GET /actuator/health, the public liveness/readiness
// route the middleware chain never protects with auth.
func (d *Deps) Health(db postgres.DatabaseConnection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]checkResult{}
		status := "UP"

		if err := db.Health(r.Context()); err != nil {
			checks["database"] = checkResult{Status: "DOWN", Error: err.Error()}
			status = "DOWN"
		} else {
			checks["database"] = checkResult{Status: "UP"}
		}

		code := http.StatusOK
		if status == "DOWN" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, healthResponse{Status: status, Time: time.Now().UTC(), Checks: checks})
	}
}
