// Command gateway is the composition root: it builds every
// process-wide singleton spec.md §9 names and wires them into one
// fiber.App, following the teacher's cmd/saas-api/main.go shape.
package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/auth"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/cache"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/config"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/ecommerce"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/edge"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/logging"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/media"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/processor"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/registry"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/upstream"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/workflow"
)

func main() {
	cfg := config.Load()
	log := logging.Init(cfg.LogVerbose)

	db, err := store.Open(cfg.StoreDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer db.Close()

	var bus cache.Bus
	if cfg.CacheURL != "" {
		redisBus, err := cache.New(cfg.CacheURL)
		if err != nil {
			log.Fatal().Err(err).Msg("open cache bus")
		}
		bus = redisBus
		defer bus.Close()
	}

	up, err := upstream.New(upstream.Config{
		PhoneNumberID:  cfg.WAPhoneNumberID,
		AccessToken:    cfg.WAAccessToken,
		APIVersion:     cfg.WAAPIVersion,
		MaxConcurrency: cfg.WAMaxConcurrency,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init upstream client")
	}

	reg := registry.New(log, db, bus, registry.Config{
		SendTextPerMin:  cfg.SendTextPerMin,
		SendMediaPerMin: cfg.SendMediaPerMin,
		EnablePubsub:    cfg.EnableWSPubsub,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if cfg.EnableWSPubsub {
		reg.StartBusSubscriber(ctx)
	}

	proc := processor.New(log, db, bus, reg, up, processor.Config{PublicBaseURL: cfg.PublicBaseURL})

	ffmpegAudio := processor.NewFFmpegAudio()
	proc.SetAudioNormalizer(ffmpegAudio)
	proc.SetWaveformComputer(ffmpegAudio)

	if cfg.S3BucketName != "" {
		s3Store, err := media.NewS3Store(ctx, cfg.S3AccessKeyID, cfg.S3SecretAccessKey, cfg.S3Region, cfg.S3BucketName, cfg.PublicBaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("init media store")
		}
		proc.SetMediaStorage(s3Store)
	}

	var backend ecommerce.Backend
	if cfg.EcommerceBaseURL != "" {
		backend = ecommerce.NewShopifyBackend(cfg.EcommerceBaseURL, cfg.EcommerceAPIKey, cfg.WACatalogID)
		proc.SetFallbackImageResolver(ecommerce.FallbackResolver{Backend: backend})
	}

	if backend != nil {
		engine := workflow.New(log, db, bus, backend, proc, workflow.Config{
			AutoReplyCatalogMatch: cfg.AutoReplyCatalogMatch,
			AutoReplyMinScore:     cfg.AutoReplyMinScore,
			AutoReplyTestNumbers:  splitAndTrim(cfg.AutoReplyTestNumbers),
		})
		proc.SetWorkflowEngine(engine)
		if err := engine.StartSurveyScheduler(ctx); err != nil {
			log.Fatal().Err(err).Msg("start survey scheduler")
		}
		defer engine.Stop()
	} else {
		log.Warn().Msg("no e-commerce backend configured, automation workflows disabled")
	}

	tokens := auth.NewTokenService(cfg.JWTSecret)

	var tagRepo store.TagOptionRepo
	if cfg.StoreDriver == "postgres" {
		tagRepo, err = store.NewTagOptionRepo(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("open tag-option repo")
		}
	}

	srv := edge.New(log, db, bus, reg, proc, up, backend, tokens, tagRepo, edge.Config{
		WAVerifyToken:    cfg.WAVerifyToken,
		DefaultCatalogID: cfg.WACatalogID,
		BurstWindowSec:   cfg.BurstWindowSec,
		BurstLimit:       cfg.BurstLimit,
	}, time.Now().UTC().Format(time.RFC3339))

	app := fiber.New(fiber.Config{AppName: "wa-agent-gateway"})
	srv.RegisterRoutes(app)

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		_ = app.Shutdown()
	}()

	log.Info().Str("port", cfg.Port).Msg("starting wa-agent-gateway")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func splitAndTrim(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
