package cron

import (
	"errors"
	"testing"
)

func TestRunNow(t *testing.T) {
	s := NewService()
	ran := 0
	s.Register(Job{Name: "sweep", Schedule: "@every 5m", Run: func() error {
		ran++
		return nil
	}})

	if err := s.RunNow("sweep"); err != nil {
		t.Fatalf("RunNow error: %v", err)
	}
	if ran != 1 {
		t.Errorf("ran = %d, want 1", ran)
	}

	st := s.States()["sweep"]
	if st.LastStatus != "ok" || st.LastError != "" {
		t.Errorf("state = %+v, want ok", st)
	}
	if st.LastRunAt.IsZero() {
		t.Error("LastRunAt should be stamped")
	}
}

func TestRunNow_Error(t *testing.T) {
	s := NewService()
	s.Register(Job{Name: "snapshot", Schedule: "@every 10m", Run: func() error {
		return errors.New("disk full")
	}})

	if err := s.RunNow("snapshot"); err == nil {
		t.Fatal("expected error")
	}

	st := s.States()["snapshot"]
	if st.LastStatus != "error" || st.LastError != "disk full" {
		t.Errorf("state = %+v, want error state", st)
	}
}

func TestRunNow_Unknown(t *testing.T) {
	s := NewService()
	if err := s.RunNow("nope"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := NewService()
	s.Register(Job{Name: "bad", Schedule: "not a schedule", Run: func() error { return nil }})
	defer s.Stop()

	if err := s.Start(); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestStartAndStop(t *testing.T) {
	s := NewService()
	s.Register(Job{Name: "sweep", Schedule: "@every 5m", Run: func() error { return nil }})

	if err := s.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	s.Stop()
	// Stop again is a no-op.
	s.Stop()
}
