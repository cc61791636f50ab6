// Command replica runs a single node of the replicated key/value store:
// the gin HTTP API, the Redis-backed dissemination queues, and the
// background loops that drive gossip, CAB consensus, and the
// execute/rollback pipeline.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/epochkv/epoch/internal/config"
	"github.com/epochkv/epoch/internal/dispatch"
	"github.com/epochkv/epoch/internal/httpapi"
	"github.com/epochkv/epoch/internal/logging"
	"github.com/epochkv/epoch/internal/queue"
	"github.com/epochkv/epoch/internal/replica"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logging.Init("INFO")
		logging.Get("main").Fatalf("config: %v", err)
	}

	logging.Init(cfg.LogLevel)
	logger := logging.Get("main")
	logger.Infof("NODE_ID: %d", cfg.NodeID)
	logger.Infof("NO_NODES: %d", cfg.NodeCount())

	client := queue.NewClient(cfg.RedisHost, cfg.RedisPort)
	opQueue := queue.NewRedisQueue(client, queue.OperationQueue)
	cabQueue := queue.NewRedisQueue(client, queue.CABQueue)
	proposeQueue := queue.NewRedisQueue(client, queue.ProposeQueue)
	decideQueue := queue.NewRedisQueue(client, queue.DecideQueue)

	rep := replica.New(cfg.NodeID, cfg.NodeCount(), opQueue, cabQueue, proposeQueue, decideQueue)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := dispatch.New(rep, cfg, opQueue, cabQueue, proposeQueue, decideQueue)
	go d.Run(ctx)
	go statusLoop(ctx, rep, logger)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.NewRouter(rep),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("http shutdown: %v", err)
		}
	}()

	logger.Infof("listening on %s", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("http server: %v", err)
	}
	_ = client.Close()
}

// statusLoop periodically logs a snapshot of every collection named in
// §3, matching original_source/application/main.py's print_status task.
func statusLoop(ctx context.Context, rep *replica.Replica, logger interface {
	Infof(format string, args ...interface{})
}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := rep.Status()
			logger.Infof(
				"status: committed=%d tentative=%d executed=%d to_be_executed=%d to_be_rolled_back=%d causal_ctx=%d missing_context_ops=%d consensus_k=%d ordered_messages=%d unordered_messages=%d",
				s.Committed, s.Tentative, s.Executed, s.ToBeExecuted, s.ToBeRolledBack,
				s.CausalCtxSize, s.MissingContextOps, s.ConsensusK, s.OrderedMessages, s.UnorderedMessages,
			)
		}
	}
}
