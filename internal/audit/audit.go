package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one security-relevant outcome of a login or factor-management operation.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Method    string            `json:"method,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events. Implementations must be safe for use
// from the dispatcher worker.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands events to a reader over a buffered channel.
type ChannelSink chan Event

func NewChannelSink(buffer int) ChannelSink {
	return make(ChannelSink, max(buffer, 1))
}

func (s ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s <- event:
	case <-ctx.Done():
	}
}

func (s ChannelSink) Events() <-chan Event { return s }

// JSONWriterSink encodes one JSON object per line.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		w = io.Discard
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	s.mu.Lock()
	_ = s.enc.Encode(event)
	s.mu.Unlock()
}

// ZapSink logs each event at info level under the "audit" logger, using the
// event type as the message.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Emit(_ context.Context, event Event) {
	fields := []zap.Field{
		zap.Time("at", event.Timestamp),
		zap.String("user_id", event.UserID),
		zap.Bool("success", event.Success),
	}
	for key, val := range map[string]string{"method": event.Method, "ip": event.IP, "error": event.Error} {
		if val != "" {
			fields = append(fields, zap.String(key, val))
		}
	}
	for key, val := range event.Metadata {
		fields = append(fields, zap.String("meta."+key, val))
	}
	s.logger.Info(event.EventType, fields...)
}
