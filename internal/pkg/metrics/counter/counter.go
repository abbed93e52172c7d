package counter

import (
	"context"
	"log"
	"strconv"

	"github.com/ManuelReschke/MemberFox/internal/pkg/cache"
)

const (
	statusChecksKey  = "billing:counters:status_checks"
	webhookEventsKey = "billing:counters:webhook_events"
	checkoutsKey     = "billing:counters:checkouts"
)

// AddStatusCheck increments the running total of status resolutions in Redis.
// Best effort: a missing cache never blocks the request path.
func AddStatusCheck() {
	client := cache.GetClient()
	if client == nil {
		return
	}
	if err := client.Incr(context.Background(), statusChecksKey).Err(); err != nil {
		log.Printf("counter: status check increment failed: %v", err)
	}
}

// AddWebhookEvent increments the per-type webhook counter hash in Redis.
func AddWebhookEvent(eventType string) {
	client := cache.GetClient()
	if client == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	if err := client.HIncrBy(context.Background(), webhookEventsKey, eventType, 1).Err(); err != nil {
		log.Printf("counter: webhook event increment failed: %v", err)
	}
}

// AddCheckout increments the running total of started checkouts in Redis.
func AddCheckout() {
	client := cache.GetClient()
	if client == nil {
		return
	}
	if err := client.Incr(context.Background(), checkoutsKey).Err(); err != nil {
		log.Printf("counter: checkout increment failed: %v", err)
	}
}

// StatusCheckTotal reads the running total of status resolutions.
func StatusCheckTotal() int64 {
	client := cache.GetClient()
	if client == nil {
		return 0
	}
	val, err := client.Get(context.Background(), statusChecksKey).Result()
	if err != nil {
		return 0
	}
	n, _ := strconv.ParseInt(val, 10, 64)
	return n
}

// WebhookEventTotals reads the per-type webhook counters.
func WebhookEventTotals() map[string]int64 {
	client := cache.GetClient()
	if client == nil {
		return nil
	}
	data, err := client.HGetAll(context.Background(), webhookEventsKey).Result()
	if err != nil || len(data) == 0 {
		return nil
	}
	totals := make(map[string]int64, len(data))
	for eventType, raw := range data {
		n, _ := strconv.ParseInt(raw, 10, 64)
		totals[eventType] = n
	}
	return totals
}
