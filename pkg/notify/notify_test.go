package notify

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fluxorio/feedbuffer/pkg/prefetch"
	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func runTestNATSServer(t *testing.T) *natssrv.Server {
	t.Helper()

	s, err := natssrv.NewServer(&natssrv.Options{Port: -1})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(s.Shutdown)
	return s
}

func subscribe(t *testing.T, url, subject string) *nats.Subscription {
	t.Helper()
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("nats.Connect: %v", err)
	}
	t.Cleanup(nc.Close)

	sub, err := nc.SubscribeSync(subject)
	if err != nil {
		t.Fatalf("SubscribeSync: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	return sub
}

func TestPublisher_Refill(t *testing.T) {
	s := runTestNATSServer(t)
	sub := subscribe(t, s.ClientURL(), "fb.test.>")

	p, err := Connect(Config{URL: s.ClientURL(), Prefix: "fb.test", Name: "notify-test"}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	p.OnRefill(prefetch.RefillReport{
		BufferID:  "b1",
		PassID:    "p1",
		Duration:  1500 * time.Millisecond,
		Committed: 4,
		Failures:  1,
		Size:      4,
		Err:       prefetch.ErrTooManyFailures,
	})
	if err := p.Flush(2 * time.Second); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	if msg.Subject != "fb.test.refill" {
		t.Fatalf("subject = %q, want fb.test.refill", msg.Subject)
	}
	if got := msg.Header.Get("X-Buffer-ID"); got != "b1" {
		t.Errorf("X-Buffer-ID = %q, want b1", got)
	}

	var body RefillMessage
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.PassID != "p1" || body.Committed != 4 || body.DurationMS != 1500 {
		t.Errorf("unexpected payload: %+v", body)
	}
	if body.Error != prefetch.ErrTooManyFailures.Error() {
		t.Errorf("error = %q", body.Error)
	}

	if _, err := sub.NextMsg(100 * time.Millisecond); !errors.Is(err, nats.ErrTimeout) {
		t.Errorf("unexpected extra message, err = %v", err)
	}
}

func TestPublisher_ExhaustedOnce(t *testing.T) {
	s := runTestNATSServer(t)
	sub := subscribe(t, s.ClientURL(), "feedbuffer.exhausted")

	nc, err := nats.Connect(s.ClientURL())
	if err != nil {
		t.Fatalf("nats.Connect: %v", err)
	}
	t.Cleanup(nc.Close)
	p := NewPublisher(nc, "", nil)

	for i := 0; i < 3; i++ {
		p.OnRefill(prefetch.RefillReport{BufferID: "b1", EndMarkers: 1, Exhausted: true})
	}
	p.OnRefill(prefetch.RefillReport{BufferID: "b2", Exhausted: true})
	if err := p.Flush(2 * time.Second); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	seen := map[string]int{}
	for {
		msg, err := sub.NextMsg(200 * time.Millisecond)
		if errors.Is(err, nats.ErrTimeout) {
			break
		}
		if err != nil {
			t.Fatalf("NextMsg: %v", err)
		}
		seen[msg.Header.Get("X-Buffer-ID")]++
	}
	if seen["b1"] != 1 || seen["b2"] != 1 {
		t.Errorf("exhausted messages per buffer = %v, want one each", seen)
	}

	// Borrowed connections stay open.
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if nc.IsClosed() {
		t.Error("Close closed a borrowed connection")
	}
}

func TestPublisher_FetchFailed(t *testing.T) {
	s := runTestNATSServer(t)
	sub := subscribe(t, s.ClientURL(), "feedbuffer.fetch_failed")

	p, err := Connect(Config{URL: s.ClientURL()}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	p.OnFetch(prefetch.FetchEvent{BufferID: "b1", Ref: "https://i.example/ok.jpg"})
	p.OnFetch(prefetch.FetchEvent{BufferID: "b1", Ref: "https://i.example/bad.jpg", Err: errors.New("unexpected EOF")})
	p.OnPop(prefetch.PopEvent{BufferID: "b1"})
	if err := p.Flush(2 * time.Second); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	var body FetchFailedMessage
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Ref != "https://i.example/bad.jpg" || body.Error != "unexpected EOF" {
		t.Errorf("unexpected payload: %+v", body)
	}
	if _, err := sub.NextMsg(100 * time.Millisecond); !errors.Is(err, nats.ErrTimeout) {
		t.Errorf("successful fetch was published, err = %v", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	if _, err := Connect(Config{URL: "nats://127.0.0.1:1"}, nil); err == nil {
		t.Fatal("Connect to closed port succeeded")
	}
}
