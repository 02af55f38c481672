package app

import (
	"sync"

	"attempt-ledger-service/internal/domain"
)

// LeaderboardHub fans leaderboard snapshots out to subscribers, per event.
type LeaderboardHub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.Leaderboard]struct{}
}

func NewLeaderboardHub() *LeaderboardHub {
	return &LeaderboardHub{subscribers: make(map[string]map[chan domain.Leaderboard]struct{})}
}

func (h *LeaderboardHub) subscribe(eventID string, initial domain.Leaderboard) (<-chan domain.Leaderboard, func()) {
	ch := make(chan domain.Leaderboard, 8)

	h.mu.Lock()
	subs, ok := h.subscribers[eventID]
	if !ok {
		subs = make(map[chan domain.Leaderboard]struct{})
		h.subscribers[eventID] = subs
	}
	subs[ch] = struct{}{}
	ch <- initial
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.subscribers[eventID]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.subscribers, eventID)
		}
	}
	return ch, cancel
}

func (h *LeaderboardHub) hasSubscribers(eventID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[eventID]) > 0
}

func (h *LeaderboardHub) publish(eventID string, lb domain.Leaderboard) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[eventID] {
		select {
		case ch <- lb:
		default:
			// Slow subscriber: replace its oldest pending snapshot.
			select {
			case <-ch:
			default:
			}
			ch <- lb
		}
	}
}
