package server

import (
	"context"
	"net/http"
	"time"

	"shrike/internal/database"
	"shrike/internal/jobs/runtime"
	"shrike/internal/support"
)

type healthStatus struct {
	Status    string `json:"status"`
	Redis     string `json:"redis"`
	Database  string `json:"database"`
	Instances int    `json:"instances,omitempty"`
}

func getHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := healthStatus{Status: "ok", Redis: "ok", Database: "ok"}
	httpStatus := http.StatusOK

	client, err := support.GetRedisClient()
	if err != nil {
		status.Redis = err.Error()
	} else if err := client.Ping(ctx).Err(); err != nil {
		status.Redis = err.Error()
	} else if instances, err := runtime.CountActiveInstances(ctx, client); err == nil {
		status.Instances = instances
	}

	if database.DB == nil {
		status.Database = "not connected"
	} else if sqlDB, err := database.DB.DB(); err != nil {
		status.Database = err.Error()
	} else if err := sqlDB.PingContext(ctx); err != nil {
		status.Database = err.Error()
	}

	if status.Redis != "ok" || status.Database != "ok" {
		status.Status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, status)
}
