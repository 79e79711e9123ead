package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes events on company:{company}:{role}:events so other
// services (SMS, email relays) can subscribe without touching this process.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Channel returns the pub/sub channel for a company and role
func Channel(companyID, role string) string {
	return fmt.Sprintf("company:%s:%s:events", companyID, role)
}

func (r *RedisNotifier) Notify(ctx context.Context, companyID, recipientRole string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, Channel(companyID, recipientRole), payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

func (r *RedisNotifier) Name() string { return "redis" }
