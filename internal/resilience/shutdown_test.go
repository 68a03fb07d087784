package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestShutdownRunsPhasesInOrder(t *testing.T) {
	cfg := ShutdownConfig{DrainTimeout: 50 * time.Millisecond, CloseTimeout: 50 * time.Millisecond, CleanupTimeout: 50 * time.Millisecond, ForceTimeout: time.Second}
	g := NewGracefulShutdown(quietLogger(), cfg)

	if g.Phase() != PhaseRunning {
		t.Fatalf("initial phase = %v, want running", g.Phase())
	}

	cleanupRan := false
	g.RegisterCleanup("flush", func(ctx context.Context) error {
		cleanupRan = true
		return nil
	})

	if err := g.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("shutdown returned %v", err)
	}
	if g.Phase() != PhaseTerminated {
		t.Errorf("phase = %v, want terminated", g.Phase())
	}
	if !cleanupRan {
		t.Error("cleanup task should have run")
	}
	if g.Stats().ForcedShutdown {
		t.Error("shutdown should not have been forced")
	}
}

func TestShutdownClosesRegisteredConnections(t *testing.T) {
	cfg := ShutdownConfig{DrainTimeout: 10 * time.Millisecond, CloseTimeout: time.Second, CleanupTimeout: 10 * time.Millisecond, ForceTimeout: time.Second}
	g := NewGracefulShutdown(quietLogger(), cfg)

	closed := false
	g.RegisterConnection("conn-1", closerFunc(func() error {
		closed = true
		return nil
	}))

	if err := g.Shutdown(context.Background(), "test"); err != nil {
		t.Fatal(err)
	}
	if !closed {
		t.Error("registered connection should be closed during the closing phase")
	}
	if g.Stats().ActiveConnectionsClosed != 1 {
		t.Errorf("connections closed = %d, want 1", g.Stats().ActiveConnectionsClosed)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	g := NewGracefulShutdown(quietLogger(), ShutdownConfig{ForceTimeout: time.Second})
	_ = g.Shutdown(context.Background(), "first")
	_ = g.Shutdown(context.Background(), "second")
	<-g.Done()
}

func TestShutdownManagerSavesStateBeforeClosing(t *testing.T) {
	cfg := DefaultShutdownConfig()
	cfg.DrainTimeout, cfg.CloseTimeout, cfg.CleanupTimeout, cfg.ForceTimeout = time.Millisecond, time.Millisecond, time.Millisecond, time.Second
	cfg.NotifyPeers = false
	m := NewShutdownManager(quietLogger(), cfg)

	saved := false
	m.RegisterComponent("store", fakeComponent{save: func(ctx context.Context) error {
		saved = true
		return nil
	}})

	if err := m.Shutdown(context.Background(), "test"); err != nil {
		t.Fatal(err)
	}
	if !saved {
		t.Error("component state should have been saved")
	}
}

type fakeComponent struct {
	save func(ctx context.Context) error
}

func (f fakeComponent) SaveState(ctx context.Context) error { return f.save(ctx) }

func TestCleanupTaskFailureIsCounted(t *testing.T) {
	cfg := ShutdownConfig{DrainTimeout: time.Millisecond, CloseTimeout: time.Millisecond, CleanupTimeout: 100 * time.Millisecond, ForceTimeout: time.Second}
	g := NewGracefulShutdown(quietLogger(), cfg)
	g.RegisterCleanup("bad", func(ctx context.Context) error { return errors.New("boom") })

	_ = g.Shutdown(context.Background(), "test")
	if g.Stats().CleanupTasksFailed != 1 {
		t.Errorf("failed = %d, want 1", g.Stats().CleanupTasksFailed)
	}
}
