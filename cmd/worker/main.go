package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"schoolgate/internal/config"
	"schoolgate/internal/journal"
	"schoolgate/internal/queue"
	"schoolgate/internal/store"
)

// Worker drains commit messages published by the api process and persists
// them to the journal table.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	repo := journal.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for commit messages...")
	for msg := range messages {
		if msg.Type != "commit" {
			continue
		}

		var entry journal.Entry
		if err := json.Unmarshal(msg.Body, &entry); err != nil {
			log.Printf("malformed journal message dropped: %v", err)
			continue
		}

		if err := repo.Insert(ctx, entry); err != nil {
			log.Printf("journal insert failed for %s: %v", entry.ID, err)
			continue
		}
		log.Printf("journaled %s %s for person %d (%s)", entry.Action, entry.Outcome, entry.PersonID, entry.Time)
	}

	log.Println("worker stopped")
}
