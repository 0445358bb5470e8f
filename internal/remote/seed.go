package remote

import (
	"time"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// demoUser owns every demo fixture. Matches the default user id so the
// tools work without passing user_id.
const demoUser = "default"

// DemoSeeds returns the fixtures loaded in demo mode. They give
// search, dedup, and the cache tools something to work with before any
// agent has written a memory: entity-rich facts, a near-duplicate
// pair, and a spread of priorities and ages.
func DemoSeeds() []*memory.Memory {
	now := time.Now().UTC()
	mk := func(id, content string, age time.Duration, priority memory.Priority) *memory.Memory {
		md := memory.Metadata{}
		if priority != "" {
			md.SetPriority(priority)
		}
		return &memory.Memory{
			ID:        id,
			UserID:    demoUser,
			Content:   content,
			CreatedAt: now.Add(-age),
			Metadata:  md,
		}
	}

	return []*memory.Memory{
		mk("demo-stack", "The dashboard is built with Next.js 14 and deploys to Vercel", 45*24*time.Hour, memory.PriorityHigh),
		mk("demo-db", "Production data lives in Postgres 16 on Neon, staging uses a local Docker container", 44*24*time.Hour, ""),
		mk("demo-style", "Maya prefers tabs over spaces and wants error messages in plain English", 30*24*time.Hour, ""),
		mk("demo-deploy", "Deploys go out Tuesday and Thursday after the standup", 21*24*time.Hour, ""),
		mk("demo-coffee", "Maya drinks dark roast coffee and schedules reviews before noon", 14*24*time.Hour, memory.PriorityLow),
		mk("demo-api", "The billing API is rate limited to 100 requests per minute per tenant", 10*24*time.Hour, memory.PriorityHigh),
		mk("demo-api-copy", "The billing API is rate limited to 100 requests per minute for each tenant", 9*24*time.Hour, ""),
		mk("demo-oncall", "Escalations page Priya first, then the platform channel", 5*24*time.Hour, ""),
		mk("demo-test", "Integration tests need the VAULT_ADDR environment variable pointed at the dev cluster", 2*24*time.Hour, ""),
		mk("demo-recent", "The retry queue backs up when the webhook consumer falls behind", 6*time.Hour, ""),
	}
}
