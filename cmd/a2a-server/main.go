package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meshwork-ai/a2a-go/a2a"
	"github.com/meshwork-ai/a2a-go/knowledge"
	"github.com/meshwork-ai/a2a-go/pkg/config"
	"github.com/meshwork-ai/a2a-go/server"
)

var (
	configFile    = flag.String("config", "", "Path to configuration file (JSON or YAML)")
	listenAddress = flag.String("listen", "", "Address to listen on (overrides config)")
	logLevel      = flag.String("log-level", "", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *listenAddress != "" {
		cfg.ListenAddress = *listenAddress
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var taskStore server.TaskStore
	if cfg.TaskStoreDir != "" {
		taskStore, err = server.NewFileTaskStore(cfg.TaskStoreDir)
		if err != nil {
			logger.Fatal("failed to open task store", zap.Error(err))
		}
	} else {
		taskStore = server.NewInMemoryTaskStore()
	}

	opts := []server.Option{
		server.WithListenAddress(cfg.ListenAddress),
		server.WithA2APathPrefix(cfg.A2APathPrefix),
		server.WithAgentCardPath(cfg.AgentCardPath),
		server.WithAgentCard(cfg.AgentCard.AgentCard()),
		server.WithTaskStore(taskStore),
		server.WithTaskHandler(echoHandler),
		server.WithLogger(logger),
		server.WithSubscriberQueueSize(cfg.QueueSize),
		server.WithPushRetryPolicy(cfg.Push.RetryInitialInterval, cfg.Push.RetryMaxInterval, cfg.Push.MaxAttempts),
	}
	if caps := cfg.AgentCard.Capabilities; caps != nil && caps.KnowledgeGraph {
		opts = append(opts, server.WithKnowledgeStore(knowledge.NewMemoryStore(
			knowledge.WithLogger(logger),
			knowledge.WithSubscriberQueueSize(cfg.QueueSize),
		)))
	}
	if cfg.BearerToken != "" {
		opts = append(opts, server.WithAuthValidator(server.BearerTokenValidator(cfg.BearerToken)))
	}

	srv, err := server.NewServer(opts...)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("server stopped", zap.Error(err))
		}
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}
}

// echoHandler answers each user message by echoing its text parts back.
func echoHandler(ctx context.Context, tc server.TaskContext) (<-chan server.YieldUpdate, error) {
	updates := make(chan server.YieldUpdate, 4)
	go func() {
		defer close(updates)

		var texts []string
		for _, part := range tc.UserMessage.Parts {
			if text, ok := part.(a2a.TextPart); ok {
				texts = append(texts, text.Text)
			}
		}
		reply := a2a.Message{
			Role:  a2a.RoleAgent,
			Parts: []a2a.Part{a2a.NewTextPart("Echo: " + strings.Join(texts, " "))},
		}

		select {
		case updates <- server.StatusUpdate{State: a2a.TaskStateWorking}:
		case <-ctx.Done():
			return
		}
		select {
		case updates <- server.StatusUpdate{State: a2a.TaskStateCompleted, Message: &reply}:
		case <-ctx.Done():
		}
	}()
	return updates, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
