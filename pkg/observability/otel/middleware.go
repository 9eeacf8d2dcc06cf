package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/valyala/fasthttp"
)

const tracerName = "github.com/fluxorio/feedbuffer/pkg/observability/otel"

// headerCarrier adapts fasthttp request headers to propagation.TextMapCarrier.
type headerCarrier struct {
	h *fasthttp.RequestHeader
}

func (c headerCarrier) Get(key string) string { return string(c.h.Peek(key)) }

func (c headerCarrier) Set(key, value string) { c.h.Set(key, value) }

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, c.h.Len())
	c.h.VisitAll(func(k, _ []byte) {
		keys = append(keys, string(k))
	})
	return keys
}

var _ propagation.TextMapCarrier = headerCarrier{}

// HTTPMiddleware starts a server span per request, continuing any trace
// context carried in the request headers. The span context is stored as a
// user value under "otel.ctx" so handlers can parent their own spans.
func HTTPMiddleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		parent := otel.GetTextMapPropagator().Extract(ctx, headerCarrier{h: &ctx.Request.Header})

		spanCtx, span := otel.Tracer(tracerName).Start(parent,
			string(ctx.Method())+" "+string(ctx.Path()),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", string(ctx.Method())),
				attribute.String("url.path", string(ctx.Path())),
			))
		defer span.End()

		ctx.SetUserValue("otel.ctx", spanCtx)
		next(ctx)

		status := ctx.Response.StatusCode()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= fasthttp.StatusInternalServerError {
			span.SetStatus(codes.Error, fasthttp.StatusMessage(status))
		}
	}
}
