package domain

import (
	"testing"
	"time"
)

func TestSession_ExpiredIsStrictlyAfterIdle(t *testing.T) {
	last := time.Unix(1_700_000_000, 0)
	s := Session{LastActivity: last}

	if s.Expired(last.Add(30*time.Minute), 30*time.Minute) {
		t.Fatalf("expected session valid at exactly the idle timeout")
	}
	if !s.Expired(last.Add(30*time.Minute+time.Second), 30*time.Minute) {
		t.Fatalf("expected session expired past the idle timeout")
	}
}
