package feedback

import "testing"

func TestFiresAtCadenceOnly(t *testing.T) {
	c := NewCounter(15)

	fired := 0
	for i := 1; i <= 16; i++ {
		fb, ok := c.Bump("s1")
		if ok {
			fired++
			if i != 15 {
				t.Fatalf("fired at check %d, want 15", i)
			}
			if fb.Streak != 15 {
				t.Fatalf("streak = %d, want 15", fb.Streak)
			}
			if fb.Message == "" {
				t.Fatalf("empty feedback message")
			}
		}
	}
	if fired != 1 {
		t.Fatalf("fired %d times over 16 checks, want exactly 1", fired)
	}
}

func TestFiresAtEveryMultiple(t *testing.T) {
	c := NewCounter(5)
	fireChecks := []int{}
	for i := 1; i <= 20; i++ {
		if _, ok := c.Bump("s1"); ok {
			fireChecks = append(fireChecks, i)
		}
	}
	want := []int{5, 10, 15, 20}
	if len(fireChecks) != len(want) {
		t.Fatalf("fired at %v, want %v", fireChecks, want)
	}
	for i := range want {
		if fireChecks[i] != want[i] {
			t.Fatalf("fired at %v, want %v", fireChecks, want)
		}
	}
}

func TestResetZeroesStreak(t *testing.T) {
	c := NewCounter(15)
	for i := 0; i < 14; i++ {
		c.Bump("s1")
	}
	c.Reset("s1")
	if got := c.Streak("s1"); got != 0 {
		t.Fatalf("streak after reset = %d, want 0", got)
	}
	// Next firing needs a full fresh streak.
	if _, ok := c.Bump("s1"); ok {
		t.Fatalf("feedback fired right after reset")
	}
}

func TestSessionsIndependent(t *testing.T) {
	c := NewCounter(2)
	c.Bump("s1")
	if _, ok := c.Bump("s2"); ok {
		t.Fatalf("s2 first bump must not fire")
	}
	if _, ok := c.Bump("s1"); !ok {
		t.Fatalf("s1 second bump should fire")
	}
}
