// Package timesync implements the discrete-time barrier (spec §4.9): each
// synchronized participant advances a virtual clock in lock-step with every
// other synchronized required participant, broadcasting its own tick and
// waiting for the rest before invoking the user's simulation task.
package timesync

import (
	"context"
	"sync"

	"github.com/vbus-sim/vbus/wire"
)

// Sender broadcasts the per-step NextSimTask tick to peers.
type Sender interface {
	Send(network string, src wire.EndpointAddress, tag wire.MessageTag, body []byte)
}

// SyncNetwork and SyncTag identify the reserved channel time-sync ticks
// travel over.
const SyncNetwork = "$timesync"

var SyncTag wire.MessageTag = 0xFFFC

// Task is the user's simulation step, invoked once per barrier crossing.
type Task func(nowNs, stepNs int64)

// Service drives one participant's side of the barrier.
type Service struct {
	participantName string
	sender          Sender
	stepNs          int64

	mu       sync.Mutex
	cond     *sync.Cond
	nowNs    int64
	peerNow  map[string]int64
	required map[string]bool
}

// NewService constructs a time-sync service with a fixed step duration.
func NewService(participantName string, stepNs int64, sender Sender) *Service {
	s := &Service{
		participantName: participantName,
		sender:          sender,
		stepNs:          stepNs,
		peerNow:         make(map[string]int64),
		required:        make(map[string]bool),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// AddSynchronizedPeer registers another synchronized required participant
// that must reach each step before this one's barrier releases.
func (s *Service) AddSynchronizedPeer(name string) {
	s.mu.Lock()
	s.required[name] = true
	s.mu.Unlock()
}

// RemoveSynchronizedPeer drops a peer from the barrier (e.g. on departure).
func (s *Service) RemoveSynchronizedPeer(name string) {
	s.mu.Lock()
	delete(s.required, name)
	delete(s.peerNow, name)
	s.cond.Broadcast()
	s.mu.Unlock()
}

// HandlePeerTick records another participant's reported NextSimTask tick,
// potentially releasing a waiting barrier.
func (s *Service) HandlePeerTick(participantName string, tick wire.NextSimTask) {
	s.mu.Lock()
	s.peerNow[participantName] = tick.NowNs + tick.DurationNs
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Now returns the local virtual clock.
func (s *Service) Now() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowNs
}

// Run drives the barrier loop, invoking task once per step, until ctx is
// canceled (spec §4.9's cancellation semantics: the wait is interrupted and
// the task is not re-entered for the step in progress).
func (s *Service) Run(ctx context.Context, task Task) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.mu.Lock()
		nowNs := s.nowNs
		stepNs := s.stepNs
		s.mu.Unlock()

		s.sender.Send(SyncNetwork, wire.EndpointAddress{}, SyncTag, wire.NextSimTask{NowNs: nowNs, DurationNs: stepNs}.Marshal())

		if !s.waitForBarrier(ctx, nowNs+stepNs) {
			return ctx.Err()
		}

		task(nowNs, stepNs)

		s.mu.Lock()
		s.nowNs += stepNs
		s.mu.Unlock()
	}
}

// waitForBarrier blocks until every required peer's last reported tick
// ends at or after target (its now + duration >= target), or ctx is
// canceled (returning false).
func (s *Service) waitForBarrier(ctx context.Context, target int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if ctx.Err() != nil {
			return false
		}
		if s.allPeersReached(target) {
			return true
		}
		s.cond.Wait()
	}
}

// allPeersReached must be called with s.mu held.
func (s *Service) allPeersReached(target int64) bool {
	for name := range s.required {
		if s.peerNow[name] < target {
			return false
		}
	}
	return true
}
