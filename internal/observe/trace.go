package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/parley"

// SessionSpanName names the span covering one voice session from Connecting
// back to Idle.
const SessionSpanName = "voice.session"

// Attribute keys set on the session span.
const (
	AttrSessionID = attribute.Key("session.id")
	AttrModel     = attribute.Key("session.model")
	AttrVoice     = attribute.Key("session.voice")
	AttrOutcome   = attribute.Key("session.outcome")
)

// Session outcomes recorded on the span when it ends.
const (
	OutcomeStopped      = "stopped"
	OutcomeRemoteClosed = "remote_closed"
	OutcomeFailed       = "failed"
	OutcomeShutdown     = "shutdown"
)

type sessionIDKey struct{}

func tracer() trace.Tracer { return otel.Tracer(tracerName) }

// StartSession starts the span for the session id using the global tracer
// provider. The returned context carries id for [Logger] and [SessionID].
func StartSession(ctx context.Context, id, model, voice string) (context.Context, trace.Span) {
	ctx = context.WithValue(ctx, sessionIDKey{}, id)
	return tracer().Start(ctx, SessionSpanName,
		trace.WithAttributes(
			AttrSessionID.String(id),
			AttrModel.String(model),
			AttrVoice.String(voice),
		),
	)
}

// EndSession records outcome on span and ends it. A non-nil cause marks the
// span failed with message as the status description.
func EndSession(span trace.Span, outcome string, cause error, message string) {
	span.SetAttributes(AttrOutcome.String(outcome))
	if cause != nil {
		span.RecordError(cause)
		span.SetStatus(codes.Error, message)
	}
	span.End()
}

// SessionID returns the session id stored by [StartSession], or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}

// CorrelationID returns the hex trace id of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with the session id and trace id found
// in ctx, if any.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := SessionID(ctx); id != "" {
		l = l.With(slog.String("session_id", id))
	}
	if cid := CorrelationID(ctx); cid != "" {
		l = l.With(slog.String("trace_id", cid))
	}
	return l
}
