package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/relay"
	"github.com/ent0n29/voicerelay/internal/upstream"
)

const (
	wsReadLimit    = 1 << 20
	wsIdleTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// wsWriter serializes frames onto one connection.
type wsWriter struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	metrics *observability.Metrics
}

func (w *wsWriter) send(msgType protocol.MessageType, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := w.conn.WriteJSON(v); err != nil {
		return err
	}
	w.metrics.ObserveWSMessage("outbound", string(msgType))
	return nil
}

// handleChatWS runs the same pipeline over a websocket. A new chat_request
// interrupts the turn in flight.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	creds, err := s.credentialsFromRequest(r)
	if err != nil {
		respondUnauthorized(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := &wsWriter{conn: conn, metrics: s.metrics}
	var (
		wg         sync.WaitGroup
		cancelTurn context.CancelFunc = func() {}
	)

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			_ = out.send(protocol.TypeErrorEvent, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Source: "gateway",
				Detail: err.Error(),
			})
			continue
		}
		req, ok := parsed.(protocol.ClientChatRequest)
		if !ok {
			continue
		}
		s.metrics.ObserveWSMessage("inbound", string(req.Type))

		cancelTurn()
		wg.Wait()
		var turnCtx context.Context
		turnCtx, cancelTurn = context.WithCancel(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runWSTurn(turnCtx, out, req, creds)
		}()
	}

	cancelTurn()
	cancel()
	wg.Wait()
}

func (s *Server) runWSTurn(ctx context.Context, out *wsWriter, req protocol.ClientChatRequest, creds upstream.Credentials) {
	turnID := req.TurnID
	if turnID == "" {
		turnID = uuid.NewString()
	}
	seq := 0
	res, err := s.relay.Run(ctx, relay.Turn{
		ID:          turnID,
		Messages:    req.Messages,
		Credentials: creds,
	}, func(chunk string) error {
		seq++
		return out.send(protocol.TypeTextChunk, protocol.TextChunk{
			Type:   protocol.TypeTextChunk,
			TurnID: turnID,
			Seq:    seq,
			Text:   chunk,
		})
	})

	switch {
	case err == nil:
		_ = out.send(protocol.TypeTurnEnd, protocol.TurnEnd{
			Type:   protocol.TypeTurnEnd,
			TurnID: turnID,
			Reason: string(res.Outcome),
			Chunks: res.Emitted,
		})
	case errors.Is(err, context.Canceled):
		_ = out.send(protocol.TypeTurnEnd, protocol.TurnEnd{
			Type:   protocol.TypeTurnEnd,
			TurnID: turnID,
			Reason: "interrupted",
			Chunks: res.Emitted,
		})
	default:
		s.logger.Warn("websocket turn failed", zap.String("turn_id", turnID), zap.Error(err))
		_ = out.send(protocol.TypeErrorEvent, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			TurnID:    turnID,
			Code:      "relay_failed",
			Source:    "relay",
			Retryable: errors.Is(err, context.DeadlineExceeded),
			Detail:    err.Error(),
		})
	}
}
