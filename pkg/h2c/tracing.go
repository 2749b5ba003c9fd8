package h2c

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("h2c")

// requestSpan is the tracing.SpanContext-carrying state kept per request so
// the span opened by Request can be ended once the
// terminal DoneResponse/ErrorResponse is produced.
type requestSpan struct {
	span trace.Span
}

func startRequestSpan(ctx context.Context, method, path string) requestSpan {
	_, span := tracer.Start(ctx, "h2c.request",
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.target", path),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	return requestSpan{span: span}
}

func (rs requestSpan) end(status int, err *HTTP2Error) {
	if rs.span == nil {
		return
	}
	if status != 0 {
		rs.span.SetAttributes(attribute.Int("http.status_code", status))
	}
	if err != nil {
		rs.span.SetStatus(codes.Error, err.Error())
	} else {
		rs.span.SetStatus(codes.Ok, "")
	}
	rs.span.End()
}
