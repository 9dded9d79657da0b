package app

import (
	"context"
	"log"
	"sync"
	"time"

	"quiz-session-sync/internal/domain"
)

// Advancer requests a timer-driven advance from a known question index.
type Advancer interface {
	RequestAdvance(ctx context.Context, sessionID string, fromIndex int) (domain.Session, bool, error)
}

// Pacer advances in-progress sessions when the response time of the current question elapses.
// A timer only requests an advance for the index it was armed for, so a host advance racing the
// timer resolves to a single step.
type Pacer struct {
	advancer Advancer
	now      func() time.Time
	timeout  time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func NewPacer(advancer Advancer, now func() time.Time) *Pacer {
	if now == nil {
		now = time.Now
	}
	return &Pacer{advancer: advancer, now: now, timeout: 5 * time.Second, timers: make(map[string]*time.Timer)}
}

// Schedule arms the timer for the session's current question, replacing any earlier one.
// Sessions that are not in progress are unscheduled.
func (p *Pacer) Schedule(session domain.Session) {
	deadline, ok := session.QuestionDeadline()
	p.mu.Lock()
	defer p.mu.Unlock()
	if timer, exists := p.timers[session.ID]; exists {
		timer.Stop()
		delete(p.timers, session.ID)
	}
	if !ok || p.closed {
		return
	}

	id, index := session.ID, session.CurrentQuestionIndex
	var timer *time.Timer
	timer = time.AfterFunc(max(0, deadline.Sub(p.now())), func() {
		p.mu.Lock()
		current := p.timers[id] == timer
		p.mu.Unlock()
		if current {
			p.fire(id, index)
		}
	})
	p.timers[id] = timer
}

func (p *Pacer) fire(sessionID string, index int) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	session, changed, err := p.advancer.RequestAdvance(ctx, sessionID, index)
	if err != nil {
		log.Printf("pacer advance for session %s at %d failed: %v", sessionID, index, err)
		p.Stop(sessionID)
		return
	}
	if changed {
		log.Printf("pacer advanced session %s from %d", sessionID, index)
	}
	p.Schedule(session)
}

// Stop cancels the timer for a session.
func (p *Pacer) Stop(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if timer, ok := p.timers[sessionID]; ok {
		timer.Stop()
		delete(p.timers, sessionID)
	}
}

// Pending reports how many sessions have an armed timer.
func (p *Pacer) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

// Close stops every timer. Schedule is a no-op afterwards.
func (p *Pacer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, timer := range p.timers {
		timer.Stop()
		delete(p.timers, id)
	}
}
