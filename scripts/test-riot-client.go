package main

import (
	"context"
	"log"
	"os"

	"github.com/jonboulle/clockwork"

	"github.com/Lolevel/thunderclap/internal/ratelimit"
	"github.com/Lolevel/thunderclap/internal/riot"
)

// Manual check for the upstream client. Usage:
//
//	RIOT_API_KEY=... go run scripts/test-riot-client.go <puuid>
func main() {
	apiKey := os.Getenv("RIOT_API_KEY")
	if apiKey == "" {
		log.Fatal("RIOT_API_KEY not set")
	}
	if len(os.Args) < 2 {
		log.Fatal("usage: test-riot-client <puuid>")
	}
	puuid := os.Args[1]

	limiter, err := ratelimit.New(20, 100, clockwork.NewRealClock())
	if err != nil {
		log.Fatalf("limiter: %v", err)
	}
	client, err := riot.NewClient(apiKey, "europe", "euw1", limiter)
	if err != nil {
		log.Fatalf("client: %v", err)
	}

	ctx := context.Background()

	log.Printf("Listing tournament matches for %s...", puuid)
	ids, err := client.ListMatchIDs(ctx, puuid, "tourney", 10)
	if err != nil {
		log.Fatalf("list match ids: %v", err)
	}
	log.Printf("Got %d match ids", len(ids))

	if len(ids) > 0 {
		payload, err := client.GetMatch(ctx, ids[0])
		if err != nil {
			log.Fatalf("get match: %v", err)
		}
		if payload == nil {
			log.Printf("Match %s not found upstream", ids[0])
		} else {
			log.Printf("Match %s: %ds, %d participants",
				payload.Metadata.MatchID, payload.Info.GameDuration, len(payload.Info.Participants))
		}
	}

	entries, err := client.GetLeagueEntries(ctx, puuid)
	if err != nil {
		log.Fatalf("get league entries: %v", err)
	}
	for _, e := range entries {
		log.Printf("Queue %s: %s %s (%d LP, %dW/%dL)",
			e.QueueType, e.Tier, e.Rank, e.LeaguePoints, e.Wins, e.Losses)
	}
}
