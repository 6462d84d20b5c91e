package httpapi

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ent0n29/voicerelay/internal/transcript"
)

const maxTranscriptLimit = 200

func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	creds, err := s.credentialsFromRequest(r)
	if err != nil {
		respondUnauthorized(w, err)
		return
	}
	if s.transcripts == nil {
		respondError(w, http.StatusNotFound, "transcripts_disabled", "transcript recording is disabled")
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "missing user id")
		return
	}
	// Callers may only read their own turns.
	if creds.UserID != userID {
		respondError(w, http.StatusForbidden, "forbidden", "transcripts are only readable by their own user")
		return
	}

	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(v, maxTranscriptLimit)
	}

	turns, err := s.transcripts.RecentTurns(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error("list transcripts failed", zap.String("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "transcripts_unavailable", "could not load transcripts")
		return
	}
	if creds.OrgID != "" {
		turns = slices.DeleteFunc(turns, func(t transcript.TurnRecord) bool {
			return t.OrgID != creds.OrgID
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"turns":   turns,
	})
}
