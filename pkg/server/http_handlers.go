package server

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const (
	defaultTranscriptLimit = 50
	maxTranscriptLimit     = 500
)

// TranscriptHandler serves the latest relayed messages as JSON, oldest first.
// The optional limit query parameter caps the count.
func (s *Server) TranscriptHandler(w http.ResponseWriter, r *http.Request) {
	if s.transcript == nil {
		http.Error(w, "Transcript not enabled on this server", http.StatusNotImplemented)
		return
	}

	limit := defaultTranscriptLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxTranscriptLimit)
	}

	entries, err := s.transcript.Recent(limit)
	if err != nil {
		errorLog.Printf("Failed to read transcript: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []TranscriptEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"messages": entries,
		"count":    len(entries),
	}); err != nil {
		errorLog.Printf("Error encoding transcript JSON: %v", err)
	}
}
