// Command chatsync-sim exercises the offline delivery pipeline end to end.
//
// It submits messages against a flaky in-process gateway, sweeps the outbound
// queue until it drains (or entries exhaust their retry budget), and prints
// the reconciled transcript. Useful for eyeballing backoff behavior and for
// demoing the sqlitekv backend (-db).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/velmie/chatsync"
	"github.com/velmie/chatsync/sqlitekv"
)

const exitUsage = 2

// remoteServer plays the remote store: it persists confirmed messages and
// deduplicates by correlation ID, as the gateway contract requires.
type remoteServer struct {
	mu        sync.Mutex
	rng       *rand.Rand
	failRate  float64
	confirmed []chatsync.ConfirmedMessage
	attempts  int
}

func (r *remoteServer) Send(_ context.Context, conversationID string, body string, id chatsync.CorrelationID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts++
	if r.rng.Float64() < r.failRate {
		return errors.New("simulated network failure")
	}

	for _, message := range r.confirmed {
		if message.CorrelationID == id {
			return nil
		}
	}
	r.confirmed = append(r.confirmed, chatsync.ConfirmedMessage{
		CorrelationID:  id,
		ConversationID: conversationID,
		SenderID:       "sim-user",
		Body:           body,
		SentAt:         time.Now().UTC(),
	})

	return nil
}

func (r *remoteServer) snapshot() []chatsync.ConfirmedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]chatsync.ConfirmedMessage, len(r.confirmed))
	copy(out, r.confirmed)

	return out
}

func (r *remoteServer) attemptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.attempts
}

func main() {
	var (
		dbPath       string
		conversation string
		messages     int
		failRate     float64
		maxSweeps    int
		seed         int64
		verbose      bool
	)

	flag.StringVar(&dbPath, "db", "", "SQLite database path (empty uses an in-memory store)")
	flag.StringVar(&conversation, "conversation", "conv-sim", "Conversation ID")
	flag.IntVar(&messages, "messages", 5, "Number of messages to submit while offline")
	flag.Float64Var(&failRate, "fail-rate", 0.5, "Probability that a send attempt fails")
	flag.IntVar(&maxSweeps, "max-sweeps", 50, "Sweep budget before giving up")
	flag.Int64Var(&seed, "seed", 1, "RNG seed for reproducible runs")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	if messages <= 0 || failRate < 0 || failRate >= 1 {
		fmt.Fprintln(os.Stderr, "messages must be positive and fail-rate within [0, 1)")
		flag.Usage()
		os.Exit(exitUsage)
	}

	if err := run(dbPath, conversation, messages, failRate, maxSweeps, seed, verbose); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(dbPath, conversation string, messages int, failRate float64, maxSweeps int, seed int64, verbose bool) error {
	ctx := context.Background()

	logger, err := buildLogger(verbose)
	if err != nil {
		return err
	}

	kv, cleanup, err := openStore(ctx, dbPath)
	if err != nil {
		return err
	}
	defer cleanup()

	migrator, err := chatsync.NewMigrator(kv, chatsync.DefaultMigrations(),
		chatsync.WithMigratorLogger(logger))
	if err != nil {
		return err
	}
	if err := migrator.Run(ctx); err != nil {
		return err
	}

	queue, err := chatsync.NewOutbox(kv, chatsync.WithOutboxLogger(logger))
	if err != nil {
		return err
	}
	cache, err := chatsync.NewCache(kv, chatsync.WithCacheLogger(logger))
	if err != nil {
		return err
	}
	store, err := chatsync.NewStore(queue, cache, chatsync.WithStoreLogger(logger))
	if err != nil {
		return err
	}
	if err := store.Restore(ctx); err != nil {
		return err
	}

	remote := &remoteServer{
		rng:      rand.New(rand.NewSource(seed)),
		failRate: failRate,
	}
	// Short delays keep the simulation snappy while preserving the doubling
	// shape of the production policy.
	policy := chatsync.RetryPolicy{
		BaseDelay: 5 * time.Millisecond,
		MaxDelay:  160 * time.Millisecond,
	}
	processor, err := chatsync.NewProcessor(queue, remote,
		chatsync.WithRetryPolicy(policy),
		chatsync.WithProcessorLogger(logger),
		chatsync.WithEventHandler(store.HandleQueueEvent))
	if err != nil {
		return err
	}

	for i := 1; i <= messages; i++ {
		id, err := store.Submit(ctx, conversation, fmt.Sprintf("message %d", i))
		if err != nil {
			return err
		}
		color.Yellow("queued   %s  message %d", id, i)
	}

	sweeps := 0
	for ; sweeps < maxSweeps; sweeps++ {
		entries, err := queue.PeekAll(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			break
		}

		delivered, err := processor.Sweep(ctx)
		if err != nil {
			return err
		}
		if delivered > 0 {
			if err := store.ApplySnapshot(ctx, conversation, remote.snapshot()); err != nil {
				return err
			}
		}
		time.Sleep(policy.BaseDelay)
	}

	printTranscript(store, conversation)
	fmt.Printf("\n%d message(s), %d sweep(s), %d attempt(s)\n",
		messages, sweeps, remote.attemptCount())

	remaining, err := queue.PeekAll(ctx)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		return fmt.Errorf("%d entry(ies) still queued after %d sweeps", len(remaining), sweeps)
	}

	return nil
}

func printTranscript(store *chatsync.Store, conversation string) {
	fmt.Println()
	for _, message := range store.Visible(conversation) {
		switch {
		case message.Confirmed:
			color.Green("confirmed %s  %s", message.CorrelationID, message.Body)
		case message.Status == chatsync.StatusFailed:
			color.Red("failed    %s  %s", message.CorrelationID, message.Body)
		default:
			color.Yellow("%-9s %s  %s", message.Status, message.CorrelationID, message.Body)
		}
	}
}

func buildLogger(verbose bool) (chatsync.Logger, error) {
	if !verbose {
		return chatsync.NopLogger{}, nil
	}

	zl, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return chatsync.NewZapLogger(zl), nil
}

func openStore(ctx context.Context, dbPath string) (chatsync.KeyValue, func(), error) {
	if dbPath == "" {
		return chatsync.NewMemoryStore(), func() {}, nil
	}

	store, err := sqlitekv.Open(ctx, dbPath)
	if err != nil {
		return nil, nil, err
	}

	return store, func() { _ = store.Close() }, nil
}
