package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSender captures dispatched payloads and fails a configurable
// number of times per payload.
type recordingSender struct {
	mu       sync.Mutex
	attempts []string
	failAll  bool
}

func (s *recordingSender) Post(ctx context.Context, payload Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, payload["id"].(string))
	if s.failAll {
		return context.DeadlineExceeded
	}
	return nil
}

func (s *recordingSender) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.attempts))
	copy(out, s.attempts)
	return out
}

func TestChannelFIFO(t *testing.T) {
	sender := &recordingSender{}
	ch := NewChannel("test", sender, Blocking, nil, testLogger())
	ch.Start()
	ch.Send(Payload{"id": "a"})
	ch.Send(Payload{"id": "b"})
	ch.Send(Payload{"id": "c"})
	ch.Stop()

	got := sender.seen()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("dispatch order = %v, want [a b c]", got)
	}
}

func TestChannelRetryCapThenMovesOn(t *testing.T) {
	sender := &recordingSender{failAll: true}
	ch := NewChannel("test", sender, Blocking, nil, testLogger())
	ch.Start()
	ch.Send(Payload{"id": "dead"})
	ch.Send(Payload{"id": "next"})
	ch.Stop()

	got := sender.seen()
	// Exactly 3 attempts for the first payload, then the next is dispatched.
	if len(got) != 6 {
		t.Fatalf("attempts = %v, want 3+3", got)
	}
	for i := 0; i < 3; i++ {
		if got[i] != "dead" {
			t.Fatalf("attempt %d = %q, want dead", i, got[i])
		}
	}
	for i := 3; i < 6; i++ {
		if got[i] != "next" {
			t.Fatalf("attempt %d = %q, want next", i, got[i])
		}
	}
}

func TestChannelStartStopIdempotent(t *testing.T) {
	sender := &recordingSender{}
	opened, closed := 0, 0
	lifecycle := func(open bool) Payload {
		if open {
			opened++
			return Payload{"id": "open"}
		}
		closed++
		return Payload{"id": "close"}
	}
	ch := NewChannel("test", sender, Blocking, lifecycle, testLogger())

	// Stop before any Start is a no-op.
	ch.Stop()
	if closed != 0 {
		t.Fatal("stop before start emitted a closing card")
	}

	ch.Start()
	ch.Start()
	if opened != 1 {
		t.Fatalf("opened cards = %d, want 1", opened)
	}
	if !ch.Running() {
		t.Fatal("channel should be running")
	}

	ch.Stop()
	ch.Stop()
	if closed != 1 {
		t.Fatalf("closing cards = %d, want 1", closed)
	}
	if ch.Running() {
		t.Fatal("channel should be stopped")
	}

	got := sender.seen()
	if len(got) != 2 || got[0] != "open" || got[1] != "close" {
		t.Fatalf("lifecycle dispatches = %v", got)
	}
}

func TestChannelBlockingStopDrains(t *testing.T) {
	sender := &recordingSender{}
	ch := NewChannel("test", sender, Blocking, nil, testLogger())
	ch.Start()
	for i := 0; i < 4; i++ {
		ch.Send(Payload{"id": "x"})
	}
	ch.Stop()
	if n := len(sender.seen()); n != 4 {
		t.Fatalf("delivered %d payloads before stop returned, want 4", n)
	}
	if ch.QueueLen() != 0 {
		t.Fatal("queue not drained")
	}
}

func TestChannelConcurrentStop(t *testing.T) {
	sender := &recordingSender{}
	ch := NewChannel("test", sender, BestEffort, nil, testLogger())
	ch.Start()

	// Both Stop calls racing to close the loop must be safe; only one may
	// actually tear it down.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch.Stop()
		}()
	}
	wg.Wait()

	if ch.Running() {
		t.Fatal("channel should be stopped")
	}
}

func TestChannelBestEffortPolls(t *testing.T) {
	sender := &recordingSender{}
	ch := NewChannel("test", sender, BestEffort, nil, testLogger())
	ch.Start()
	ch.Send(Payload{"id": "a"})

	deadline := time.Now().Add(5 * time.Second)
	for len(sender.seen()) == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	ch.Stop()
	if got := sender.seen(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("best-effort dispatch = %v", got)
	}
}

func TestFeishuSenderChecksApplicationCode(t *testing.T) {
	var bodies []map[string]any
	code := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		bodies = append(bodies, body)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": "ok"})
	}))
	defer srv.Close()

	sender := NewFeishuSender(srv.URL)
	payload := Payload{"msg_type": "text", "content": map[string]string{"text": "hi"}}

	if err := sender.Post(context.Background(), payload); err != nil {
		t.Fatalf("Post with code=0: %v", err)
	}
	if bodies[0]["msg_type"] != "text" {
		t.Fatalf("wire envelope = %v", bodies[0])
	}

	// HTTP 200 with a non-zero application code is a failure.
	code = 19001
	if err := sender.Post(context.Background(), payload); err == nil {
		t.Fatal("Post with code!=0 should fail")
	}
}

func TestFeishuSenderRejectsNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway error</html>"))
	}))
	defer srv.Close()

	sender := NewFeishuSender(srv.URL)
	if err := sender.Post(context.Background(), Payload{"msg_type": "text"}); err == nil {
		t.Fatal("Post with non-JSON body should fail")
	}
}
