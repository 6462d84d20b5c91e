package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/relay"
)

// handleChat is the streaming proxy endpoint. Once headers are written the
// status is always 200; upstream failures arrive as spoken text.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	creds, err := s.credentialsFromRequest(r)
	if err != nil {
		respondUnauthorized(w, err)
		return
	}

	var req protocol.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "empty_body", "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := protocol.ValidateMessages(req.Messages); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_messages", err.Error())
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_ = flush(rc)

	res, err := s.relay.Run(r.Context(), relay.Turn{
		Messages:    req.Messages,
		Credentials: creds,
	}, func(chunk string) error {
		if _, err := io.WriteString(w, chunk); err != nil {
			return err
		}
		return flush(rc)
	})
	if err != nil {
		s.logger.Info("chat relay ended early",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("turn_id", res.TurnID),
			zap.String("outcome", string(res.Outcome)),
			zap.Error(err),
		)
	}
}

func flush(rc *http.ResponseController) error {
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
