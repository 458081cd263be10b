package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/levelhq/level-engine/internal/api"
	"github.com/levelhq/level-engine/internal/db"
	"github.com/levelhq/level-engine/internal/embed"
	"github.com/levelhq/level-engine/internal/label"
	"github.com/levelhq/level-engine/internal/pipeline"
	"github.com/levelhq/level-engine/internal/store"
)

func main() {
	log.Println("Starting Level Dataset Balance Engine...")

	// ─── Environment Variables ──────────────────────────────────────────
	// EMBED_ENDPOINT/EMBED_MODEL are required: without embeddings there is
	// no ingestion. DATABASE_URL and GEMINI_API_KEY are optional; the
	// engine degrades to in-memory-only and generic labels respectively.
	// ────────────────────────────────────────────────────────────────────

	var dbConn *db.PostgresStore
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		conn, err := db.Connect(dbURL)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without snapshot persistence. Error: %v", err)
		} else {
			dbConn = conn
			defer dbConn.Close()
			if err := dbConn.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	} else {
		log.Println("DATABASE_URL not set, running fully in-memory")
	}

	embedder, err := embed.NewClient(embed.Config{
		Endpoint: requireEnv("EMBED_ENDPOINT"),
		Model:    requireEnv("EMBED_MODEL"),
		APIKey:   os.Getenv("EMBED_API_KEY"),
	})
	if err != nil {
		log.Fatalf("FATAL: embedding client: %v", err)
	}

	labeler := label.NewClient(label.Config{APIKey: os.Getenv("GEMINI_API_KEY")})
	if !labeler.Available() {
		log.Println("GEMINI_API_KEY not set, clusters get generic labels and AI endpoints are disabled")
	}

	st := store.New()

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	// Completed ingestions broadcast to dashboards and persist a snapshot.
	onReady := func(datasetID string) {
		wsHub.BroadcastDatasetReady(datasetID)
		if dbConn == nil {
			return
		}
		snap, err := st.Snapshot(datasetID)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := dbConn.SaveSnapshot(ctx, snap); err != nil {
			log.Printf("Warning: snapshot persistence failed for %s: %v", datasetID, err)
		}
	}

	pl := pipeline.New(st, embedder, labeler, nil, onReady)

	// Setup the Gin Router
	r := api.SetupRouter(st, dbConn, labeler, pl, wsHub)

	port := getEnvOrDefault("PORT", "5340")

	log.Printf("Engine running on :%s\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// requireEnv reads a required environment variable and exits if it is not set.
// This prevents the binary from starting with missing critical configuration.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values: cp .env.example .env", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
