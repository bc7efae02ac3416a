package obs

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type queryTraceKey struct{}

type queryTrace struct {
	span  trace.Span
	sql   string
	start time.Time
}

// PGXTracer implements pgx.QueryTracer. Every statement gets a span; statements
// slower than SlowThreshold are also logged when Logger is set.
type PGXTracer struct {
	Logger        *zerolog.Logger
	SlowThreshold time.Duration
}

// TraceQueryStart starts a span for the SQL statement.
func (t PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	sql := truncateSQL(data.SQL)
	ctx, span := otel.Tracer("db.pgx").Start(ctx, "pgx.query", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", sql),
	)
	if fields := strings.Fields(sql); len(fields) > 0 {
		span.SetAttributes(attribute.String("db.operation", strings.ToUpper(fields[0])))
	}
	return context.WithValue(ctx, queryTraceKey{}, queryTrace{span: span, sql: sql, start: time.Now()})
}

// TraceQueryEnd ends the span and records any error.
func (t PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qt, ok := ctx.Value(queryTraceKey{}).(queryTrace)
	if !ok {
		return
	}
	defer qt.span.End()
	if data.Err != nil {
		qt.span.RecordError(data.Err)
	}
	elapsed := time.Since(qt.start)
	if t.Logger != nil && t.SlowThreshold > 0 && elapsed >= t.SlowThreshold {
		t.Logger.Warn().
			Str("sql", qt.sql).
			Int64("duration_ms", elapsed.Milliseconds()).
			Int64("rows", data.CommandTag.RowsAffected()).
			Msg("slow query")
	}
}

func truncateSQL(sql string) string {
	trimmed := strings.Join(strings.Fields(sql), " ")
	if len(trimmed) > 300 {
		return trimmed[:300] + "..."
	}
	return trimmed
}
