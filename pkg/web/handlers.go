package web

import (
	"bytes"
	"encoding/json"
	"image/jpeg"
	"image/png"
	"strconv"
	"strings"

	"github.com/fluxorio/feedbuffer/pkg/prefetch"
	"github.com/valyala/fasthttp"
)

// HeaderFeedEnd is set to "true" on /next responses carrying the end-of-feed image.
const HeaderFeedEnd = "X-Feed-End"

func (s *Server) handleNext(ctx *fasthttp.RequestCtx) {
	item, ok := s.buf.Pop()
	if !ok {
		ctx.Response.Header.Set(fasthttp.HeaderRetryAfter, strconv.Itoa(max(int(s.cfg.RetryAfter.Seconds()), 1)))
		ctx.SetStatusCode(fasthttp.StatusNoContent)
		return
	}
	if item.Value == nil {
		s.logger.Error("buffer yielded a nil image", "end", item.End)
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	var body bytes.Buffer
	var err error
	if wantsJPEG(ctx) {
		ctx.SetContentType("image/jpeg")
		err = jpeg.Encode(&body, item.Value, &jpeg.Options{Quality: 90})
	} else {
		ctx.SetContentType("image/png")
		err = png.Encode(&body, item.Value)
	}
	if err != nil {
		s.logger.Error("encode image", "error", err)
		ctx.ResetBody()
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	if item.End {
		ctx.Response.Header.Set(HeaderFeedEnd, "true")
	}
	ctx.Response.Header.Set(fasthttp.HeaderCacheControl, "no-store")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(body.Bytes())
}

// wantsJPEG honours ?format=jpeg, or an Accept header naming image/jpeg but not image/png.
func wantsJPEG(ctx *fasthttp.RequestCtx) bool {
	switch strings.ToLower(string(ctx.QueryArgs().Peek("format"))) {
	case "jpeg", "jpg":
		return true
	case "png":
		return false
	}
	accept := string(ctx.Request.Header.Peek(fasthttp.HeaderAccept))
	return strings.Contains(accept, "image/jpeg") && !strings.Contains(accept, "image/png")
}

type statsResponse struct {
	Buffer       prefetch.Stats      `json:"buffer"`
	Backpressure BackpressureMetrics `json:"backpressure"`
}

func (s *Server) handleStats(ctx *fasthttp.RequestCtx) {
	data, err := json.Marshal(statsResponse{
		Buffer:       s.buf.Stats(),
		Backpressure: s.backpressure.GetMetrics(),
	})
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(data)
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("text/plain; charset=utf-8")
	ctx.SetBodyString("ok")
}
