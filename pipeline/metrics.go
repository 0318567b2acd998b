package pipeline

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// opMetrics captures the lifecycle of one pipeline operation for the
// structured log record and the surrounding trace span.
type opMetrics struct {
	logger  *log.Logger
	op      string
	start   time.Time
	span    trace.Span
	boardID string
	verb    string
	retried bool
	noop    bool
	stage   string
}

func (p *Pipeline) newOpMetrics(ctx context.Context, op string) (context.Context, *opMetrics) {
	ctx, span := p.tracer.Start(ctx, "pipeline."+op)
	return ctx, &opMetrics{
		logger: p.logger,
		op:     op,
		start:  time.Now(),
		span:   span,
	}
}

func (m *opMetrics) SetBoard(boardID string) { m.boardID = boardID }
func (m *opMetrics) SetVerb(verb string)     { m.verb = verb }
func (m *opMetrics) SetRetried()             { m.retried = true }
func (m *opMetrics) SetNoop()                { m.noop = true }

func (m *opMetrics) SetStage(stage string) {
	if m.stage == "" {
		m.stage = stage
	}
}

// Log emits one structured record per operation and closes the span.
func (m *opMetrics) Log(err error) {
	if m == nil {
		return
	}
	defer m.span.End()

	fields := log.Fields{
		"op":       m.op,
		"total_ms": float64(time.Since(m.start)) / float64(time.Millisecond),
	}
	if m.boardID != "" {
		fields["board_id"] = m.boardID
	}
	if m.verb != "" {
		fields["verb"] = m.verb
	}
	if m.retried {
		fields["reindexed"] = true
	}
	if m.noop {
		fields["noop"] = true
	}
	if m.stage != "" {
		fields["error_stage"] = m.stage
	}
	if err != nil {
		fields["error"] = err.Error()
		m.span.RecordError(err)
		m.logger.WithFields(fields).Warn("pipeline.operation")
		return
	}
	m.logger.WithFields(fields).Info("pipeline.operation")
}
