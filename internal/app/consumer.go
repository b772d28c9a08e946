package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/streamhive/monetization-service/internal/domain"
	"github.com/streamhive/monetization-service/internal/store"
)

// EligibilityConsumer applies monetization eligibility flips published by
// the platform's business-rule engine. Malformed payloads are acked and
// dropped; storage failures are nacked so the broker redelivers.
type EligibilityConsumer struct {
	repo store.Repository
}

func NewEligibilityConsumer(repo store.Repository) *EligibilityConsumer {
	return &EligibilityConsumer{repo: repo}
}

func (c *EligibilityConsumer) HandleMessage(body []byte) bool {
	var event domain.EligibilityEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=eligibility_consumer msg=\"failed to unmarshal payload\" err=%v", err)
		return true
	}

	if event.CreatorID == uuid.Nil {
		log.Printf("level=warn component=eligibility_consumer msg=\"missing creator id in event\" can_monetize=%t", event.CanMonetize)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.repo.SetCanMonetize(ctx, event.CreatorID, event.CanMonetize); err != nil {
		log.Printf("level=error component=eligibility_consumer msg=\"failed to apply eligibility update\" creator_id=%s err=%v", event.CreatorID, err)
		return false
	}

	log.Printf("level=info component=eligibility_consumer msg=\"eligibility updated\" creator_id=%s can_monetize=%t reason=%q", event.CreatorID, event.CanMonetize, event.Reason)
	return true
}
