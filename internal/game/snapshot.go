package game

import "github.com/lox/toninas/internal/controller"

// Snapshot is a point-in-time view of a session, as served to observers.
type Snapshot struct {
	ID                string            `json:"id"`
	State             State             `json:"state"`
	Outcome           Outcome           `json:"outcome,omitempty"`
	SenderPos         []int             `json:"sender_pos"`
	ReceiverPos       []int             `json:"receiver_pos"`
	Timeout           float64           `json:"timeout"`
	ConnQty           int               `json:"conn_qty"`
	SlotQty           int               `json:"slot_qty"`
	SenderBlacklist   []int             `json:"sender_blacklist"`
	ReceiverBlacklist []int             `json:"receiver_blacklist"`
	Test              bool              `json:"test"`
	ConnState         []int             `json:"conn_state"`
	SenderHealth      controller.Health `json:"sender_health"`
	ReceiverHealth    controller.Health `json:"receiver_health"`
	Restarts          int               `json:"restarts"`
}

// Snapshot returns the session's configuration, positions and latest state.
func (s *Session) Snapshot() Snapshot {
	cfg := s.Config()

	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ID:                s.id,
		State:             s.state,
		Outcome:           s.outcome,
		SenderPos:         append([]int{}, s.senderPos...),
		ReceiverPos:       append([]int{}, s.receiverPos...),
		Timeout:           cfg.Timeout.Seconds(),
		ConnQty:           cfg.ConnQty,
		SlotQty:           cfg.SlotQty,
		SenderBlacklist:   cfg.SenderBlacklist,
		ReceiverBlacklist: cfg.ReceiverBlacklist,
		Test:              cfg.Test,
		ConnState:         append([]int{}, s.connState...),
		SenderHealth:      s.senderHealth,
		ReceiverHealth:    s.receiverHealth,
		Restarts:          s.restarts,
	}
}
