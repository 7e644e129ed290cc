package main

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	Connected     bool   `json:"connected"`
	LatencyMs     int64  `json:"latency_ms"`
	DriftMs       int64  `json:"drift_ms"`
	MovesInFlight int64  `json:"moves_in_flight"`
}

// handleHealth handles the GET /health endpoint
func (app *application) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Uptime:        time.Since(app.StartTime).Round(time.Second).String(),
		Connected:     app.Bridge.Connected(),
		LatencyMs:     app.Runtime.Latency().Milliseconds(),
		DriftMs:       app.Runtime.Drift().Milliseconds(),
		MovesInFlight: app.Runtime.MovesInFlight(),
	}
	code := http.StatusOK
	if !resp.Connected {
		resp.Status = "disconnected"
		code = http.StatusServiceUnavailable
	}
	app.writeJSON(w, code, resp)
}
