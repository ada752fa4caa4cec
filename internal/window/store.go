package window

import (
	"sync"

	"KSpectra/internal/model"
)

// Capacities configures the buffers of a Store.
type Capacities struct {
	Packets int // recent packets kept for display
	History int // packets kept for heuristics and recomputation
	Alerts  int // recent alerts
}

// Counts reports how many items each buffer currently holds.
type Counts struct {
	Packets int `json:"packets"`
	History int `json:"history"`
	Alerts  int `json:"alerts"`
}

// Store owns the rolling packet and alert buffers.
// Writes are serialized; reads return copies and may run concurrently.
type Store struct {
	mu      sync.RWMutex
	packets *Ring[model.Packet]
	history *Ring[model.Packet]
	alerts  *Ring[model.Alert]
}

// NewStore creates a store with the given capacities.
func NewStore(c Capacities) *Store {
	return &Store{
		packets: NewRing[model.Packet](c.Packets),
		history: NewRing[model.Packet](c.History),
		alerts:  NewRing[model.Alert](c.Alerts),
	}
}

// AppendPacket inserts p at the head of both packet buffers.
func (s *Store) AppendPacket(p model.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets.Push(p)
	s.history.Push(p)
}

// AppendAlert inserts a at the head of the alert buffer.
func (s *Store) AppendAlert(a model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts.Push(a)
}

// RecentPackets returns up to n display packets, newest first. n < 0 means all.
func (s *Store) RecentPackets(n int) []model.Packet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.packets.Recent(n)
}

// History returns up to n packets of the longer history, newest first. n < 0 means all.
func (s *Store) History(n int) []model.Packet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Recent(n)
}

// RecentAlerts returns up to n alerts, newest first. n < 0 means all.
func (s *Store) RecentAlerts(n int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alerts.Recent(n)
}

// Counts returns the current buffer sizes.
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counts{
		Packets: s.packets.Len(),
		History: s.history.Len(),
		Alerts:  s.alerts.Len(),
	}
}
