package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qrattend/internal/config"
	"qrattend/internal/queue"
	"qrattend/internal/record"
	"qrattend/internal/roster"
	"qrattend/internal/session"
	"qrattend/internal/store"
)

// Worker sweeps overdue sessions to expired and finalizes ended sessions
// into attendance records. Expiry promotion also happens lazily at read
// time; the sweep just bounds how long an abandoned session waits.
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

	db, err := store.OpenPostgres(cfg)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.OpenRedis(cfg)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "qrattend:finalize")
	}

	rosterClient := roster.NewClient(cfg.RosterServiceURL, cfg.RosterStub)
	if !cfg.RosterStub {
		if err := rosterClient.Health(ctx); err != nil {
			log.Printf("WARNING: roster service not available: %v", err)
			log.Println("worker will retry roster lookups when sessions finalize")
		} else {
			log.Println("roster service connected")
		}
	}

	sessions := session.NewPostgresStore(db.DB)
	records := record.NewPostgresSink(db.DB)
	eval := session.NewEvaluator(cfg.FingerprintWindow, cfg.FingerprintMaxStudents)
	stats := session.NewAggregator(rosterClient, redisClient.Client, cfg.StatsCacheTTL, cfg.RecentScanLimit)
	mgr := session.NewManager(sessions, eval, stats, rosterClient, records, session.Limits{
		MinDuration:    cfg.MinSessionDuration,
		MaxDuration:    cfg.MaxSessionDuration,
		DefaultRadiusM: cfg.DefaultRadiusM,
	})

	// Periodic expiry sweep feeding the finalize queue.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ids, err := mgr.SweepExpired(ctx)
				if err != nil {
					log.Printf("expiry sweep failed: %v", err)
					continue
				}
				for _, id := range ids {
					log.Printf("session %s expired", id)
					if err := q.Publish(ctx, queue.Message{Type: queue.TypeFinalize, Body: []byte(id)}); err != nil {
						log.Printf("queue publish failed for %s: %v", id, err)
					}
				}
			}
		}
	}()

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != queue.TypeFinalize {
			continue
		}

		id := string(msg.Body)
		rec, err := mgr.Finalize(ctx, id)
		if err != nil {
			if errors.Is(err, session.ErrAlreadyClosed) {
				// Still active; a later sweep will requeue it.
				log.Printf("session %s not finalizable yet", id)
				continue
			}
			log.Printf("finalize %s failed: %v", id, err)
			continue
		}
		log.Printf("session %s finalized into record %s", id, rec.ID)

		time.Sleep(10 * time.Millisecond)
	}

	log.Println("worker stopped")
}
