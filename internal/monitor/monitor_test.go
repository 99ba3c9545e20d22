package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMonitor records lifecycle calls against a shared journal.
type fakeMonitor struct {
	name    string
	journal *[]string
	mu      *sync.Mutex
	failOn  bool
	running bool
}

func (f *fakeMonitor) Name() string { return f.name }

func (f *fakeMonitor) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn {
		return errors.New("boom")
	}
	*f.journal = append(*f.journal, "start:"+f.name)
	f.running = true
	return nil
}

func (f *fakeMonitor) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.journal = append(*f.journal, "stop:"+f.name)
	f.running = false
	return nil
}

func (f *fakeMonitor) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func TestSupervisorStartOrderStopReversed(t *testing.T) {
	var journal []string
	var mu sync.Mutex
	s := NewSupervisor(testLogger())
	a := &fakeMonitor{name: "a", journal: &journal, mu: &mu}
	b := &fakeMonitor{name: "b", journal: &journal, mu: &mu}
	c := &fakeMonitor{name: "c", journal: &journal, mu: &mu}
	s.Register(a)
	s.Register(b)
	s.Register(c)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Running() {
		t.Fatal("supervisor should be running")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Running() {
		t.Fatal("supervisor should be stopped")
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(journal) != len(want) {
		t.Fatalf("journal = %v, want %v", journal, want)
	}
	for i := range want {
		if journal[i] != want[i] {
			t.Fatalf("journal[%d] = %q, want %q", i, journal[i], want[i])
		}
	}
}

func TestSupervisorStartFailureUnwindsStarted(t *testing.T) {
	var journal []string
	var mu sync.Mutex
	s := NewSupervisor(testLogger())
	a := &fakeMonitor{name: "a", journal: &journal, mu: &mu}
	b := &fakeMonitor{name: "b", journal: &journal, mu: &mu, failOn: true}
	s.Register(a)
	s.Register(b)

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	want := []string{"start:a", "stop:a"}
	if len(journal) != len(want) || journal[0] != want[0] || journal[1] != want[1] {
		t.Fatalf("journal = %v, want %v", journal, want)
	}
	if s.Running() {
		t.Fatal("nothing should be running after unwound start")
	}
}

func TestSupervisorStartNoopWhileAnyRunning(t *testing.T) {
	var journal []string
	var mu sync.Mutex
	s := NewSupervisor(testLogger())
	a := &fakeMonitor{name: "a", journal: &journal, mu: &mu, running: true}
	b := &fakeMonitor{name: "b", journal: &journal, mu: &mu}
	s.Register(a)
	s.Register(b)

	// One unit still running means the group is running; nothing starts.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(journal) != 0 {
		t.Fatalf("journal = %v, want none while a unit is running", journal)
	}
}

func TestSupervisorStopNoopWhileNoneRunning(t *testing.T) {
	var journal []string
	var mu sync.Mutex
	s := NewSupervisor(testLogger())
	s.Register(&fakeMonitor{name: "a", journal: &journal, mu: &mu})

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(journal) != 0 {
		t.Fatalf("journal = %v, want none while nothing is running", journal)
	}
}

func TestRunnerIdempotentStartStop(t *testing.T) {
	r := newRunner("test", testLogger())
	started := make(chan struct{})
	r.startTasks(context.Background(), []Task{{
		Name: "wait",
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return nil
		},
	}})
	<-started

	// A second start while running must not spawn another task set.
	r.startTasks(context.Background(), []Task{{
		Name: "never",
		Run: func(ctx context.Context) error {
			t.Error("second start must not run tasks")
			return nil
		},
	}})

	if !r.Running() {
		t.Fatal("runner should be running")
	}
	if err := r.stopTasks(); err != nil {
		t.Fatalf("stopTasks: %v", err)
	}
	if err := r.stopTasks(); err != nil {
		t.Fatalf("second stopTasks: %v", err)
	}
	if r.Running() {
		t.Fatal("runner should be stopped")
	}
}

func TestMemoryDedup(t *testing.T) {
	d := NewMemoryDedup()
	ctx := context.Background()

	first, err := d.FirstSeen(ctx, "k", 0)
	if err != nil || !first {
		t.Fatalf("first FirstSeen = (%v, %v), want (true, nil)", first, err)
	}
	again, err := d.FirstSeen(ctx, "k", 0)
	if err != nil || again {
		t.Fatalf("second FirstSeen = (%v, %v), want (false, nil)", again, err)
	}
	other, err := d.FirstSeen(ctx, "k2", 0)
	if err != nil || !other {
		t.Fatalf("distinct key FirstSeen = (%v, %v), want (true, nil)", other, err)
	}
}
