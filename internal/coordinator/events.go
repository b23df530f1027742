package coordinator

import "time"

// EventType classifies coordination events.
type EventType string

const (
	EventSwapCreated      EventType = "swap_created"
	EventEscrowsFunded    EventType = "escrows_funded"
	EventSwapActive       EventType = "swap_active"
	EventSecretRevealed   EventType = "secret_revealed"
	EventSwapCompleted    EventType = "swap_completed"
	EventSwapFailed       EventType = "swap_failed"
	EventPartition        EventType = "partition_detected"
	EventPartitionHealed  EventType = "partition_healed"
	EventScheduleExtended EventType = "schedule_extended"
	EventRecommendation   EventType = "recommendation"
)

// RecommendedAction is what the controller advises a party to do on
// one escrow leg. The controller never force-executes a transition;
// each chain's own escrow is the authority.
type RecommendedAction string

const (
	ActionClaimNow  RecommendedAction = "claim_now"
	ActionCancelNow RecommendedAction = "cancel_now"
	ActionRetry     RecommendedAction = "retry"
)

// Event is emitted by the controller as swaps progress.
type Event struct {
	Type           EventType         `json:"type"`
	CoordinationID string            `json:"coordination_id,omitempty"`
	EscrowID       string            `json:"escrow_id,omitempty"`
	Chain          string            `json:"chain,omitempty"`
	Action         RecommendedAction `json:"action,omitempty"`
	Detail         string            `json:"detail,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}
