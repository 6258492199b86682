package system

import (
	"context"
	"errors"
	"testing"
)

type recordingService struct {
	NoopService
	calls    *[]string
	startErr error
}

func (r recordingService) Start(_ context.Context) error {
	if r.startErr != nil {
		return r.startErr
	}
	*r.calls = append(*r.calls, "start:"+r.ServiceName)
	return nil
}

func (r recordingService) Stop(_ context.Context) error {
	*r.calls = append(*r.calls, "stop:"+r.ServiceName)
	return nil
}

func TestManagerOrdering(t *testing.T) {
	var calls []string
	m := NewManager()
	for _, name := range []string{"a", "b"} {
		if err := m.Register(recordingService{NoopService: NoopService{ServiceName: name}, calls: &calls}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "stop:b", "stop:a"}
	if len(calls) != len(want) {
		t.Fatalf("calls: %v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d: want %s, got %s", i, want[i], calls[i])
		}
	}
}

func TestManagerDuplicateName(t *testing.T) {
	m := NewManager()
	if err := m.Register(NoopService{ServiceName: "dup"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(NoopService{ServiceName: "dup"}); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestManagerStartFailureUnwinds(t *testing.T) {
	var calls []string
	boom := errors.New("boom")

	m := NewManager()
	_ = m.Register(recordingService{NoopService: NoopService{ServiceName: "ok"}, calls: &calls})
	_ = m.Register(recordingService{NoopService: NoopService{ServiceName: "bad"}, calls: &calls, startErr: boom})

	err := m.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("want start error, got %v", err)
	}
	if len(calls) != 2 || calls[1] != "stop:ok" {
		t.Fatalf("started services not unwound: %v", calls)
	}
}

func TestManagerStopBeforeStart(t *testing.T) {
	m := NewManager()
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop before start should be a no-op: %v", err)
	}
}
