package goMFA

import (
	"io"

	"github.com/MrEthical07/goMFA/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one security-relevant MFA outcome. Events never carry codes,
// secrets or answers.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's async dispatcher.
type AuditSink = audit.Sink

// NoOpSink discards audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers audit events in a channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per event.
type JSONWriterSink = audit.JSONWriterSink

// ZapSink logs audit events through zap.
type ZapSink = audit.ZapSink

// MultiSink fans out to several sinks.
type MultiSink = audit.MultiSink

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return audit.NewZapSink(logger)
}
