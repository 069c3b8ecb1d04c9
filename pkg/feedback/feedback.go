// Package feedback tracks consecutive clean checks per session and emits
// encouragement at a fixed cadence. Purely cosmetic: it never influences
// scoring and its state is never persisted.
package feedback

import (
	"math/rand"
	"sync"
)

// DefaultCadence is how many consecutive clean checks trigger one
// feedback message (about every 30 seconds at the default poll rate).
const DefaultCadence = 15

var messages = []string{
	"Great job! You're doing well. Keep it up!",
	"Excellent focus! Keep up the good work!",
	"Perfect! You're maintaining good exam behavior!",
	"Well done! Your focus is impressive!",
	"Fantastic! Keep maintaining this level of focus!",
	"Outstanding! You're following all exam guidelines!",
}

// Feedback is one encouragement signal for a student.
type Feedback struct {
	Message string `json:"message"`
	Streak  int    `json:"good_behavior_streak"`
}

// Counter counts consecutive non-suspicious checks per session.
type Counter struct {
	mu      sync.Mutex
	cadence int
	counts  map[string]int
	rnd     *rand.Rand
}

// NewCounter returns a Counter firing at the given cadence. A
// non-positive cadence falls back to DefaultCadence.
func NewCounter(cadence int) *Counter {
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	return &Counter{
		cadence: cadence,
		counts:  make(map[string]int),
		rnd:     rand.New(rand.NewSource(rand.Int63())),
	}
}

// Bump records one clean check. It returns a Feedback exactly when the
// streak reaches a positive multiple of the cadence.
func (c *Counter) Bump(sessionID string) (Feedback, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[sessionID]++
	streak := c.counts[sessionID]
	if streak%c.cadence != 0 {
		return Feedback{}, false
	}
	return Feedback{Message: messages[c.rnd.Intn(len(messages))], Streak: streak}, true
}

// Reset zeroes the streak. The risk engine calls this on every recorded
// suspicious event.
func (c *Counter) Reset(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, sessionID)
}

// Streak returns the current streak for a session.
func (c *Counter) Streak(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[sessionID]
}
