package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/valyala/fasthttp"
)

func serve(h fasthttp.RequestHandler, requestID string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	var req fasthttp.Request
	req.SetRequestURI("http://feedbuffer.test/next")
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}
	ctx.Init(&req, nil, nil)
	h(&ctx)
	return &ctx
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(func(ctx *fasthttp.RequestCtx) {
		seen = string(ctx.Request.Header.Peek(RequestIDHeader))
	})

	ctx := serve(h, "")
	got := string(ctx.Response.Header.Peek(RequestIDHeader))
	if got == "" || got != seen {
		t.Errorf("generated id: response %q, handler %q", got, seen)
	}

	ctx = serve(h, "client-123")
	if got := string(ctx.Response.Header.Peek(RequestIDHeader)); got != "client-123" {
		t.Errorf("response id = %q, want client-123", got)
	}
}

func TestRecovery(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	h := Recovery(RecoveryConfig{Logger: logger})(func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("partial")
		panic("decoder blew up")
	})

	ctx := serve(h, "req-1")
	if ctx.Response.StatusCode() != fasthttp.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", ctx.Response.StatusCode())
	}

	var body map[string]string
	if err := json.Unmarshal(ctx.Response.Body(), &body); err != nil {
		t.Fatalf("body is not JSON: %q", ctx.Response.Body())
	}
	if body["message"] != "Internal Server Error" || body["request_id"] != "req-1" {
		t.Errorf("body = %v", body)
	}
	if !strings.Contains(logs.String(), "decoder blew up") {
		t.Errorf("panic not logged: %s", logs.String())
	}
}

func TestRecovery_StackTrace(t *testing.T) {
	h := Recovery(RecoveryConfig{StackTrace: true})(func(*fasthttp.RequestCtx) {
		panic(`bad "quote"`)
	})

	ctx := serve(h, "")
	var body map[string]string
	if err := json.Unmarshal(ctx.Response.Body(), &body); err != nil {
		t.Fatalf("body is not JSON: %q", ctx.Response.Body())
	}
	if body["message"] != `Panic: bad "quote"` {
		t.Errorf("message = %q", body["message"])
	}
}
