// reward.go

package economy

import (
	"context"
	"log"
)

// RewardEmitter hands a currency delta to the external economy service.
// The battle core emits amounts; it never manages balances.
type RewardEmitter interface {
	EmitReward(ctx context.Context, playerID string, amount int, reason string) error
}

// LogEmitter records rewards without an economy backend attached.
type LogEmitter struct{}

// EmitReward logs the emitted amount.
func (LogEmitter) EmitReward(_ context.Context, playerID string, amount int, reason string) error {
	log.Printf("reward emitted: player=%s amount=%d reason=%s", playerID, amount, reason)
	return nil
}
