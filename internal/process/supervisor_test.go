package process

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/config"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/logging"
)

func waitForState(t *testing.T, s *Supervisor, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("State() = %s, want %s", s.State(), want)
}

// TestSupervisor_StartStop verifies a long-running child is started, reported
// healthy and stopped with SIGTERM.
func TestSupervisor_StartStop(t *testing.T) {
	sup := New(Config{Name: "sleeper", Command: "sleep", Args: []string{"30"}}, logging.Discard())

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := sup.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	if sup.State() != StateRunning {
		t.Errorf("State() = %s, want running", sup.State())
	}
	if err := sup.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if st := sup.Stats(); st.PID == 0 || st.Name != "sleeper" {
		t.Errorf("Stats() = %+v", st)
	}

	done := make(chan struct{})
	go func() {
		sup.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return")
	}

	if sup.State() != StateStopped {
		t.Errorf("State() after Stop = %s, want stopped", sup.State())
	}
	if err := sup.HealthCheck(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("HealthCheck() after Stop = %v, want ErrNotRunning", err)
	}
	if sup.Stats().Restarts != 0 {
		t.Errorf("Restarts = %d, want 0", sup.Stats().Restarts)
	}

	// Stop is idempotent
	sup.Stop()
}

// TestSupervisor_RestartLimit verifies a crashing child is restarted until
// MaxRestarts and then marked failed.
func TestSupervisor_RestartLimit(t *testing.T) {
	sup := New(Config{
		Name:         "crasher",
		Command:      "sh",
		Args:         []string{"-c", "echo starting; exit 3"},
		RestartDelay: 10 * time.Millisecond,
		MaxRestarts:  2,
	}, logging.Discard())

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, sup, StateFailed)

	st := sup.Stats()
	if st.Restarts != 3 {
		t.Errorf("Restarts = %d, want 3 (two restarts plus the exit that hit the limit)", st.Restarts)
	}
	if st.LastError == "" {
		t.Error("LastError not recorded")
	}
	if err := sup.HealthCheck(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("HealthCheck() = %v, want ErrNotRunning", err)
	}

	sup.Stop()
}

// TestSupervisor_ContextCancelStopsRestarts verifies no restart happens
// after the parent context ends.
func TestSupervisor_ContextCancelStopsRestarts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	sup := New(Config{
		Command:      "sh",
		Args:         []string{"-c", "exit 1"},
		RestartDelay: time.Hour,
	}, logging.Discard())

	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, sup, StateBackoff)

	cancel()
	waitForState(t, sup, StateFailed)
	sup.Stop()
}

// TestSupervisor_StartErrors verifies spawn failures surface from Start.
func TestSupervisor_StartErrors(t *testing.T) {
	if err := New(Config{}, nil).Start(context.Background()); !errors.Is(err, ErrNoCommand) {
		t.Errorf("Start() error = %v, want ErrNoCommand", err)
	}

	sup := New(Config{Command: "/nonexistent/switcher-bridge"}, logging.Discard())
	if err := sup.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail for a missing binary")
	}
	if sup.State() != StateFailed {
		t.Errorf("State() = %s, want failed", sup.State())
	}

	// Not started, so Stop returns immediately
	sup.Stop()
}

// TestLineLogger verifies output is split into lines.
func TestLineLogger(t *testing.T) {
	w := &lineLogger{logger: logging.Discard(), stream: "stdout"}

	if n, err := w.Write([]byte("one\r\ntwo\nthr")); err != nil || n != 12 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if string(w.buf) != "thr" {
		t.Errorf("buffered = %q, want partial line", w.buf)
	}
	//nolint:errcheck // lineLogger never fails
	w.Write([]byte("ee\n"))
	if len(w.buf) != 0 {
		t.Errorf("buffered = %q, want empty", w.buf)
	}
}

// TestFromConfig verifies the config mapping.
func TestFromConfig(t *testing.T) {
	got := FromConfig(config.BridgeProcessConfig{
		Command:      "/usr/bin/bridge",
		Args:         []string{"-v"},
		RestartDelay: 3,
		MaxRestarts:  4,
	})
	if got.Command != "/usr/bin/bridge" || got.RestartDelay != 3*time.Second || got.MaxRestarts != 4 || got.Name != "switcher-bridge" {
		t.Errorf("FromConfig() = %+v", got)
	}
}
