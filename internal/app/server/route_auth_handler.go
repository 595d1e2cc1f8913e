package server

import (
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"

	"shrike/internal/api/dto"
	"shrike/internal/auth"
)

func loginOperator(w http.ResponseWriter, r *http.Request) {
	var creds dto.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := auth.VerifyOperator(creds.Username, creds.Password); err != nil {
		log.Warn("Login rejected", "username", creds.Username)
		writeError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(creds.Username)
	if err != nil {
		log.Error("Failed to issue token", "error", err)
		writeError(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, dto.TokenResponse{Token: token})
}
