package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"

	"shrike/internal/database"
)

func getSources(w http.ResponseWriter, r *http.Request) {
	summaries, err := database.ListSourceSummaries(r.Context())
	if err != nil {
		log.Error("Failed to list sources", "error", err)
		writeError(w, "failed to list sources", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func getEvents(w http.ResponseWriter, r *http.Request) {
	filter := database.EntryFilter{
		Source: r.URL.Query().Get("source"),
		Status: r.URL.Query().Get("status"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	entries, err := database.ListEntries(r.Context(), filter)
	if err != nil {
		log.Error("Failed to list entries", "error", err)
		writeError(w, "failed to list entries", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func getEvent(w http.ResponseWriter, r *http.Request) {
	recordID := r.PathValue("recordID")
	if recordID == "" {
		writeError(w, "missing record id", http.StatusBadRequest)
		return
	}

	entry, err := database.GetEntryByRecordID(r.Context(), recordID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, "record not found", http.StatusNotFound)
			return
		}
		log.Error("Failed to load entry", "record_id", recordID, "error", err)
		writeError(w, "failed to load entry", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
