package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/uniassist/gateway/pkg/contracts"
)

// streamHandler handles GET /v0/stream?sessionId=&cursor=: the live-push
// side of the Subscription Surface (spec §4.9). It first replays every
// event with seq > cursor from the timeline, then streams newly delivered
// events from the broker as they arrive, filtering out anything already
// covered by the replay.
func (s *Server) streamHandler(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		writeError(c, contracts.NewAPIError(contracts.ErrInvalidRequest, "sessionId is required"))
		return
	}

	cursor := 0
	if raw := c.Query("cursor"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(c, contracts.NewAPIError(contracts.ErrInvalidRequest, "cursor must be a non-negative integer"))
			return
		}
		cursor = parsed
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// Origin validation is the external channel adapter's concern, not
		// this in-process subscription surface's; accept every origin.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := c.Request.Context()

	lastSeq, err := s.replayTimeline(ctx, conn, sessionID, cursor)
	if err != nil {
		slog.Warn("stream replay failed", "session_id", sessionID, "error", err)
		conn.Close(websocket.StatusInternalError, "replay failed")
		return
	}

	consumerID := uuid.New().String()
	entries, err := s.broker.Subscribe(ctx, sessionID, consumerID)
	if err != nil {
		slog.Warn("stream subscribe failed", "session_id", sessionID, "error", err)
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}

	for entry := range entries {
		event, ok := decodeEnvelopeEvent(entry.Envelope)
		if !ok || event.Seq <= lastSeq {
			continue
		}
		if err := writeJSON(ctx, conn, event); err != nil {
			return
		}
		lastSeq = event.Seq

		// Flushed to the subscriber: advance the outbox row's terminal
		// delivered → consumed transition (spec §4.7) before acking the
		// stream entry itself.
		if err := s.outboxPool.MarkConsumed(ctx, event.EventID, consumerID); err != nil {
			slog.Warn("mark outbox row consumed failed", "session_id", sessionID, "event_id", event.EventID, "error", err)
		}
		if err := s.broker.Ack(ctx, sessionID, entry.ID); err != nil {
			slog.Warn("stream ack failed", "session_id", sessionID, "entry_id", entry.ID, "error", err)
		}
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

// replayTimeline writes every buffered/durable event with seq > cursor to
// conn in ascending order and returns the highest seq written.
func (s *Server) replayTimeline(ctx context.Context, conn *websocket.Conn, sessionID string, cursor int) (int, error) {
	page, err := s.timelineStore.List(ctx, sessionID, cursor)
	if err != nil {
		return cursor, err
	}

	last := cursor
	for _, event := range page.Events {
		if err := writeJSON(ctx, conn, event); err != nil {
			return last, err
		}
		last = event.Seq
	}
	return last, nil
}

func decodeEnvelopeEvent(envelope map[string]interface{}) (contracts.TimelineEvent, bool) {
	raw, ok := envelope["event"]
	if !ok {
		return contracts.TimelineEvent{}, false
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return contracts.TimelineEvent{}, false
	}
	var event contracts.TimelineEvent
	if err := json.Unmarshal(encoded, &event); err != nil {
		return contracts.TimelineEvent{}, false
	}
	return event, true
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, encoded)
}

