package payment

import (
	"context"
	"sync"

	"storefront/utils"
)

// WidgetSnapshot is the read view of the shared payment state.
type WidgetSnapshot struct {
	IsOpen            bool   `json:"is_open"`
	ConfirmationToken string `json:"confirmation_token,omitempty"`
	ReturnURL         string `json:"return_url,omitempty"`
}

// WidgetState is the single source of truth for whether a payment surface is open.
// Each Open hands out a generation; only the holder of the current generation can
// close the surface through CloseGeneration.
type WidgetState struct {
	mu   sync.Mutex
	snap WidgetSnapshot
	gen  uint64
	bus  *Bus
}

// NewWidgetState creates a closed state. bus may be nil.
func NewWidgetState(bus *Bus) *WidgetState {
	return &WidgetState{bus: bus}
}

// Open records a new open surface, closing any previous one first.
func (s *WidgetState) Open(confirmationToken, returnURL string) uint64 {
	s.mu.Lock()
	wasOpen := s.snap.IsOpen
	s.gen++
	gen := s.gen
	s.snap = WidgetSnapshot{
		IsOpen:            true,
		ConfirmationToken: confirmationToken,
		ReturnURL:         returnURL,
	}
	snap := s.snap
	s.mu.Unlock()

	if wasOpen {
		utils.Debug("state", "Replaced open payment surface", "generation", gen)
		s.publish(WidgetSnapshot{})
	}
	utils.Debug("state", "Payment surface opened", "generation", gen, "hosted", confirmationToken != "")
	s.publish(snap)
	return gen
}

// Close closes whatever surface is open. Closing a closed state is a no-op.
func (s *WidgetState) Close() bool {
	return s.close(func(uint64) bool { return true })
}

// CloseGeneration closes the surface only if gen is still the open one.
func (s *WidgetState) CloseGeneration(gen uint64) bool {
	return s.close(func(current uint64) bool { return current == gen })
}

func (s *WidgetState) close(owns func(current uint64) bool) bool {
	s.mu.Lock()
	if !s.snap.IsOpen || !owns(s.gen) {
		s.mu.Unlock()
		return false
	}
	s.snap = WidgetSnapshot{}
	gen := s.gen
	s.mu.Unlock()

	utils.Debug("state", "Payment surface closed", "generation", gen)
	s.publish(WidgetSnapshot{})
	return true
}

// Snapshot returns the current state.
func (s *WidgetState) Snapshot() WidgetSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Generation returns the generation of the latest Open.
func (s *WidgetState) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *WidgetState) publish(snap WidgetSnapshot) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(context.Background(), WidgetStateChanged{Snapshot: snap})
}
