package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"policy-search/internal/app"
	"policy-search/internal/cache"
	"policy-search/internal/collection"
	"policy-search/internal/httputil"
	"policy-search/internal/queue"
)

func main() {
	deps, err := app.Build("indexer", app.Options{Collection: true, Queue: true})
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()
	deps.Log.Info("indexer worker starting", "collection", deps.Collection.Name())

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeIndex, func(ctx context.Context, task queue.Task) error {
			return handleIndex(ctx, deps.Log, deps.Collection.Name(), deps.Collection.Indexer(), deps.Cache, task)
		})
	})

	g.Go(func() error {
		return httputil.ServeHealth(deps, "indexer")
	})

	// Wait for either to fail
	if err := g.Wait(); err != nil {
		deps.Log.Error("indexer service stopped", "err", err)
	}
}

// handleIndex stores the documents of an index task and drops cached answers,
// which may no longer reflect the collection. A payload that cannot be decoded
// is dropped; any other failure is returned so the queue retries the task.
func handleIndex(ctx context.Context, log *slog.Logger, name string, idx collection.Indexer, c cache.Cache, task queue.Task) error {
	log = log.With("task_id", task.ID, "attempt", task.Attempts+1)

	var payload queue.IndexPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		log.Error("dropping malformed index task", "err", err)
		return nil
	}
	if payload.Collection != "" && payload.Collection != name {
		log.Warn("task targets another collection, indexing into configured one",
			"requested", payload.Collection, "collection", name)
	}
	if len(payload.Documents) == 0 {
		log.Info("index task has no documents")
		return nil
	}

	ids, err := idx.Index(ctx, payload.Documents)
	if err != nil {
		return err
	}
	log.Info("indexed policies", "count", len(ids), "source", payload.Source)

	if err := c.InvalidateAll(ctx); err != nil {
		log.Warn("failed to invalidate response cache", "err", err)
	}
	return nil
}
