package eventsink

import (
	"context"
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go"
)

// pubnubSink delivers events over PubNub, one channel per user plus a
// per-queue channel for dashboards.
type pubnubSink struct {
	pn *pubnub.PubNub
}

// NewPubNubSink wraps an initialized PubNub client as a Sink.
func NewPubNubSink(pn *pubnub.PubNub) Sink {
	return &pubnubSink{pn: pn}
}

func (s *pubnubSink) Publish(_ context.Context, ev Event) {
	msg := map[string]any{
		"type":       string(ev.Type),
		"queue_id":   ev.QueueID,
		"session_id": ev.SessionID,
		"timestamp":  ev.Timestamp.Unix(),
	}
	if ev.Type == EventPosition {
		msg["position"] = ev.Position
		msg["message"] = positionMessage(ev.Position)
	}

	// PubNub publishes synchronously; keep the engine's hot path clear.
	go func() {
		channel := fmt.Sprintf("user-%s", ev.UserID)
		if _, st, err := s.pn.Publish().Channel(channel).Message(msg).Execute(); err != nil {
			slog.Warn("pubnub publish failed", "channel", channel, "status", st.StatusCode, "error", err)
			return
		}

		queueChannel := fmt.Sprintf("queue-%s", ev.QueueID)
		if _, st, err := s.pn.Publish().Channel(queueChannel).Message(msg).Execute(); err != nil {
			slog.Warn("pubnub publish failed", "channel", queueChannel, "status", st.StatusCode, "error", err)
		}
	}()
}

func (s *pubnubSink) Close() {
	s.pn.Destroy()
}

func positionMessage(position int) string {
	switch {
	case position == 1:
		return "You're next!"
	case position <= 5:
		return fmt.Sprintf("Almost there! You're #%d", position)
	}
	return fmt.Sprintf("You are #%d in line", position)
}
