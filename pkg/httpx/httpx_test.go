package httpx

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newInMemoryFastHTTP(t *testing.T, handler fasthttp.RequestHandler) *fasthttp.Client {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}

	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ln)
		close(done)
	}()

	client := NewClient(ClientConfig{UserAgent: "httpx-test"})
	client.Dial = func(addr string) (net.Conn, error) { return ln.Dial() }

	t.Cleanup(func() {
		_ = ln.Close()
		_ = srv.Shutdown()
		<-done
	})

	return client
}

func TestGet(t *testing.T) {
	client := newInMemoryFastHTTP(t, func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/ok":
			ctx.SetBodyString("payload:" + string(ctx.UserAgent()))
		case "/moved":
			ctx.Redirect("/ok", fasthttp.StatusFound)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	})

	t.Run("ok", func(t *testing.T) {
		body, err := Get(context.Background(), client, "http://feed.test/ok", time.Second)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(body) != "payload:httpx-test" {
			t.Errorf("Get() body = %q", body)
		}
	})

	t.Run("redirect", func(t *testing.T) {
		body, err := Get(context.Background(), client, "http://feed.test/moved", time.Second)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(body) != "payload:httpx-test" {
			t.Errorf("Get() body = %q", body)
		}
	})

	t.Run("status", func(t *testing.T) {
		_, err := Get(context.Background(), client, "http://feed.test/missing", time.Second)
		if !errors.Is(err, ErrStatus) {
			t.Errorf("Get() error = %v, want ErrStatus", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := Get(ctx, client, "http://feed.test/ok", time.Second); !errors.Is(err, context.Canceled) {
			t.Errorf("Get() error = %v, want context.Canceled", err)
		}
	})
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(ClientConfig{})
	def := DefaultClientConfig()

	if client.Name != def.UserAgent {
		t.Errorf("Name = %q, want %q", client.Name, def.UserAgent)
	}
	if client.ReadTimeout != def.ReadTimeout {
		t.Errorf("ReadTimeout = %v, want %v", client.ReadTimeout, def.ReadTimeout)
	}
	if client.MaxResponseBodySize != def.MaxResponseBodySize {
		t.Errorf("MaxResponseBodySize = %d, want %d", client.MaxResponseBodySize, def.MaxResponseBodySize)
	}
}
