package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/GreenCodr/voice-evolution-system/pkg/audio/resampler"
	"github.com/GreenCodr/voice-evolution-system/pkg/cli"
	"github.com/GreenCodr/voice-evolution-system/pkg/config"
	"github.com/GreenCodr/voice-evolution-system/pkg/kv"
	"github.com/GreenCodr/voice-evolution-system/pkg/metrics"
	"github.com/GreenCodr/voice-evolution-system/pkg/pipeline"
	"github.com/GreenCodr/voice-evolution-system/pkg/playback"
	"github.com/GreenCodr/voice-evolution-system/pkg/ratelimit"
	"github.com/GreenCodr/voice-evolution-system/pkg/registry"
	"github.com/GreenCodr/voice-evolution-system/pkg/storage"
	"github.com/GreenCodr/voice-evolution-system/pkg/synth"
	"github.com/GreenCodr/voice-evolution-system/pkg/synthcache"
)

// app holds everything one command invocation needs.
type app struct {
	engine  *pipeline.Engine
	metrics *metrics.Metrics
	source  config.Source
	closers []func() error
}

// configPath returns --config or the default location.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	paths, err := cli.NewPaths()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return paths.ConfigFile(), nil
}

// loadConfig loads the config once. Missing required thresholds fail here,
// before any store is opened.
func loadConfig() (*config.Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// openApp loads the config and builds the engine over it.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return buildApp(ctx, cfg, config.Static{C: cfg})
}

// buildApp wires stores and collaborators from cfg. src is what the
// engine reads thresholds from on every call; it may be a config.Watcher.
func buildApp(ctx context.Context, cfg *config.Config, src config.Source) (*app, error) {
	logger := slog.Default()
	paths, err := cli.NewPaths()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	a := &app{source: src}

	dataDir := paths.Resolve(cfg.Storage.DataDir)
	blobDir := paths.Resolve(cfg.Storage.BlobDir)
	if err := paths.Ensure(dataDir); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := kv.NewBadger(kv.BadgerOptions{Dir: dataDir, Logger: logger})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)

	local, err := storage.NewLocal(blobDir)
	if err != nil {
		a.Close()
		return nil, err
	}
	var blobs storage.FileStore = local
	resolver := storage.NewChain([]storage.Layer{{Name: "local", Store: local}}, storage.WithChainLogger(logger))
	if cfg.Storage.S3.Bucket != "" {
		remote := storage.NewS3(newS3Client(cfg.Storage.S3), cfg.Storage.S3.Bucket, cfg.Storage.S3.Prefix)
		blobs = remote
		resolver = storage.NewChain([]storage.Layer{
			{Name: "local", Store: local},
			{Name: "s3", Store: remote},
		}, storage.WithFill(), storage.WithChainLogger(logger))
		logger.Debug("voicever: blobs on s3", "bucket", cfg.Storage.S3.Bucket, "prefix", cfg.Storage.S3.Prefix)
	}

	reg := prometheus.NewRegistry()
	a.metrics = metrics.New(reg)

	var limitStore ratelimit.Store = ratelimit.NewKVStore(db, kv.Key{"ratelimit"})
	if cfg.RateLimit.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RateLimit.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse redis_url: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, client.Close)
		limitStore = ratelimit.NewRedisStore(client, "")
	}
	limiter := ratelimit.New(limitStore, cfg.RateLimitConfig(), ratelimit.WithLogger(logger))

	var delta *playback.AgeDelta
	if cfg.Playback.DeltaPath != "" {
		delta, err = playback.LoadAgeDelta(ctx, resolver, cfg.Playback.DeltaPath)
		if err != nil {
			logger.Warn("voicever: age delta unavailable, aging disabled", "ref", cfg.Playback.DeltaPath, "error", err)
			delta = nil
		}
	}

	a.engine = pipeline.New(pipeline.EngineConfig{
		Config:     src,
		Registry:   registry.New(db, registry.WithLogger(logger)),
		Blobs:      blobs,
		Resolver:   resolver,
		Normalizer: resampler.NewNormalizer(resampler.Format{}),
		Synthesizer: synth.NewOpenAI(synth.OpenAIConfig{
			APIKey:  cfg.Synthesis.APIKey,
			BaseURL: cfg.Synthesis.BaseURL,
			Model:   cfg.Synthesis.Model,
			Voice:   cfg.Synthesis.Voice,
		}),
		Limiter:  limiter,
		Cache:    synthcache.New(db, blobs, synthcache.WithLogger(logger)),
		AgeDelta: delta,
		Metrics:  a.metrics,
		Logger:   logger,
	})
	if err := startMetrics(ctx, metricsAddr, a.metrics.Handler()); err != nil {
		a.Close()
		return nil, fmt.Errorf("serve metrics: %w", err)
	}
	return a, nil
}

// Close releases the stores in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newS3Client builds a client from the config section. Credentials come
// from the standard AWS environment variables.
func newS3Client(c config.S3) *s3.Client {
	opts := s3.Options{
		Region:      c.Region,
		Credentials: aws.NewCredentialsCache(envCredentials{}),
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if c.Endpoint != "" {
		opts.BaseEndpoint = aws.String(c.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

type envCredentials struct{}

func (envCredentials) Retrieve(context.Context) (aws.Credentials, error) {
	id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
	if id == "" || secret == "" {
		return aws.Credentials{}, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY are required for s3 storage")
	}
	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Source:          "voicever-env",
	}, nil
}
