package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"article-pipeline/internal/article"
	"article-pipeline/internal/assets"
	"article-pipeline/internal/config"
	"article-pipeline/internal/configstore"
	"article-pipeline/internal/imagegen"
	"article-pipeline/internal/pipeline"
	"article-pipeline/internal/publisher"
	"article-pipeline/internal/store"
	"article-pipeline/internal/telemetry"
	"article-pipeline/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zlog, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zlog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	pool, err := store.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		zlog.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	configs := configstore.NewStore(pool)
	st := store.NewPostgres(pool, configs)
	if err := st.RunMigrations(ctx); err != nil {
		zlog.Fatal("run migrations", zap.Error(err))
	}

	var uploader assets.Uploader
	if cfg.AssetS3Bucket != "" {
		uploader, err = assets.NewS3Uploader(ctx, assets.S3Options{
			Bucket:    cfg.AssetS3Bucket,
			Region:    cfg.AssetS3Region,
			Endpoint:  cfg.AssetS3Endpoint,
			PathStyle: cfg.AssetS3PathStyle,
		})
		if err != nil {
			zlog.Fatal("init s3 uploader", zap.Error(err))
		}
	} else {
		uploader = assets.NewLocalUploader(cfg.AssetBaseDir)
	}

	chatClient := article.NewClient(cfg.LLMBaseURL, cfg.LLMTimeout)
	orch := pipeline.New(pipeline.Deps{
		Store:     st,
		Configs:   configs,
		Structure: article.NewBuilder(chatClient),
		Content:   article.NewWriter(chatClient),
		Images:    imagegen.NewGenerator(cfg.ImageBaseURL, cfg.ImageTimeout, cfg.ImageMaxBytes),
		Assets:    assets.NewOrganizer(uploader),
		Publisher: publisher.NewWordPress(cfg.CMSTimeout),
		Log:       zlog,
	})

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			zlog.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	sweeper := worker.NewSweeper(st, cfg.ProcessingLease, zlog)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	count := cfg.WorkerCount
	if count < 1 {
		count = 1
	}
	zlog.Info("worker started",
		zap.Int("loops", count),
		zap.Duration("poll_interval", cfg.WorkerPollInterval),
		zap.Duration("processing_lease", cfg.ProcessingLease))

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner := worker.NewRunner(st, orch, cfg.WorkerPollInterval, zlog)
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zlog.Error("runner stopped", zap.Error(err))
			}
		}()
	}
	wg.Wait()
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
