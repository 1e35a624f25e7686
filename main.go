package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"civicdocs/backend/internal/app"
	"civicdocs/backend/internal/config"
	"civicdocs/backend/internal/logger"
)

func main() {
	h := logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(slog.New(h))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.DB.Close()

	a, err := app.New(cfg, deps)
	if err != nil {
		return err
	}
	defer deps.Embedder.Close()

	if cfg.EnableIngestWorker {
		consumers := []struct {
			topic   string
			handler nsq.Handler
		}{
			{config.TopicIngest, nsq.HandlerFunc(func(m *nsq.Message) error {
				return a.IngestConsumer.HandleMessage(m)
			})},
			{config.TopicReprocess, nsq.HandlerFunc(func(m *nsq.Message) error {
				return a.ReprocessConsumer.HandleMessage(m)
			})},
		}
		for _, c := range consumers {
			consumer, err := nsq.NewConsumer(c.topic, "backend", nsq.NewConfig())
			if err != nil {
				return err
			}
			consumer.AddHandler(c.handler)
			if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
				slog.Error("failed to connect to NSQLookupd", "error", err, "topic", c.topic)
			} else {
				slog.Info("NSQ consumer connected", "topic", c.topic)
			}
			defer consumer.Stop()
		}
	}

	if !cfg.EnableAPI {
		slog.Info("API disabled, running worker only")
		<-ctx.Done()
		return nil
	}

	return a.Run(ctx)
}
