package obs

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DBQueryDuration records statement latency by SQL verb.
var DBQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: domainNamespace,
	Name:      "db_query_duration_ms",
	Help:      "Postgres statement latency in milliseconds.",
	Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
}, []string{"operation"})

type queryState struct {
	span      trace.Span
	operation string
	sql       string
	start     time.Time
}

type queryStateKey struct{}

// PGXTracer implements pgx.QueryTracer. It opens a span per statement,
// observes DBQueryDuration and logs statements slower than SlowQuery.
type PGXTracer struct {
	Logger    zerolog.Logger
	SlowQuery time.Duration
}

func (t PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	op := operation(data.SQL)
	ctx, span := otel.Tracer("db.pgx").Start(ctx, "pgx "+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", op),
		attribute.String("db.statement", truncateSQL(data.SQL)),
		attribute.Int("db.args", len(data.Args)),
	)
	return context.WithValue(ctx, queryStateKey{}, queryState{span: span, operation: op, sql: data.SQL, start: time.Now()})
}

func (t PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	st, ok := ctx.Value(queryStateKey{}).(queryState)
	if !ok {
		return
	}
	elapsed := time.Since(st.start)
	DBQueryDuration.WithLabelValues(st.operation).Observe(DurationMillis(elapsed))
	if data.Err != nil && data.Err != pgx.ErrNoRows {
		st.span.RecordError(data.Err)
		st.span.SetStatus(codes.Error, data.Err.Error())
	}
	st.span.End()
	if t.SlowQuery > 0 && elapsed >= t.SlowQuery {
		t.Logger.Warn().
			Str("operation", st.operation).
			Str("sql", truncateSQL(st.sql)).
			Dur("elapsed", elapsed).
			Msg("slow query")
	}
}

func operation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToUpper(fields[0])
}

func truncateSQL(sql string) string {
	trimmed := strings.TrimSpace(sql)
	if len(trimmed) > 300 {
		return trimmed[:300] + "..."
	}
	return trimmed
}
