package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/speaktest/config"
	"github.com/yoockh/speaktest/internal/api/handlers"
	"github.com/yoockh/speaktest/internal/api/middleware"
	"github.com/yoockh/speaktest/internal/api/routes"
	"github.com/yoockh/speaktest/internal/cache"
	"github.com/yoockh/speaktest/internal/evaluation"
	"github.com/yoockh/speaktest/internal/logger"
	"github.com/yoockh/speaktest/internal/providers/avatar"
	"github.com/yoockh/speaktest/internal/providers/llm"
	"github.com/yoockh/speaktest/internal/providers/stt"
	mongorepo "github.com/yoockh/speaktest/internal/repositories/mongo"
	pgrepo "github.com/yoockh/speaktest/internal/repositories/postgres"
	"github.com/yoockh/speaktest/internal/services"
	"github.com/yoockh/speaktest/internal/storage"
	"github.com/yoockh/speaktest/internal/workers"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadApp()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	// Init MongoDB
	if err := config.InitMongo(); err != nil {
		log.Fatalf("MongoDB init error: %v", err)
	}
	if err := config.EnsureMongoIndexes(); err != nil {
		log.Fatalf("MongoDB index error: %v", err)
	}
	log.Info("MongoDB connected")

	// Init PostgreSQL
	if err := config.InitPostgres(); err != nil {
		log.Fatalf("PostgreSQL init error: %v", err)
	}
	if err := config.MigratePostgres(config.PostgresDB); err != nil {
		log.Fatalf("PostgreSQL migrate error: %v", err)
	}
	log.Info("PostgreSQL connected")

	// Init Redis
	if err := config.InitRedis(); err != nil {
		log.Fatalf("Redis init error: %v", err)
	}
	log.Info("Redis connected")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mdb := config.MongoDatabase()
	sessionRepo := mongorepo.NewTestSessionRepo(mdb)
	chunkRepo := mongorepo.NewAudioChunkRepo(mdb)
	creditRepo := pgrepo.NewCreditRepo(config.PostgresDB)
	turnLogRepo := pgrepo.NewTurnLogRepo(config.PostgresDB)

	seed := cfg.Scoring.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	scorer := evaluation.NewHeuristicScorer(cfg.Scoring.Jitter, rand.NewSource(seed))
	assembler := evaluation.NewAssembler(evaluation.NewEvaluator(scorer))

	credits := services.NewCreditService(creditRepo)
	events := services.NewRedisPublisher(config.RedisClient)
	history := services.NewHistoryService(sessionRepo, cache.NewRedisCache(config.RedisClient), cfg.History.CacheTTL, log)

	var narrator services.CoachNarrator
	if cfg.Vertex.Project != "" {
		gemini, err := llm.NewVertexGemini(ctx, llm.VertexOptions{
			ProjectID: cfg.Vertex.Project,
			Location:  cfg.Vertex.Location,
			Model:     cfg.Vertex.Model,
		})
		if err != nil {
			log.WithError(err).Warn("vertex init failed, reports will have no coach summary")
		} else {
			defer gemini.Close()
			narrator = services.NewLLMNarrator(gemini, 0)
		}
	}

	tests := services.NewTestSessionService(services.TestSessionDeps{
		Sessions:  sessionRepo,
		Credits:   credits,
		Assembler: assembler,
		Avatar: avatar.NewTavusClient(avatar.TavusOptions{
			BaseURL:   cfg.Avatar.BaseURL,
			APIKey:    cfg.Avatar.APIKey,
			ReplicaID: cfg.Avatar.ReplicaID,
			PersonaID: cfg.Avatar.PersonaID,
			Timeout:   cfg.Avatar.Timeout,
		}),
		TurnLogs:        turnLogRepo,
		Events:          events,
		History:         history,
		Narrator:        narrator,
		Logger:          log,
		SessionCost:     cfg.Credits.SessionCost,
		MaxCallDuration: cfg.Avatar.MaxCallDuration,
	})

	deps := routes.Deps{
		Tests:   handlers.NewTestHandler(tests, history),
		Credits: handlers.NewCreditHandler(credits),
		WS:      handlers.NewWSHandler(tests, config.RedisClient, log),
		JWT:     middleware.JWTConfigFromEnv(),
	}

	if cfg.Audio.Bucket != "" {
		store, err := storage.NewGCSStore(ctx, cfg.Audio.Bucket)
		if err != nil {
			log.Fatalf("GCS init error: %v", err)
		}
		defer store.Close()

		speech, err := stt.NewGoogleSpeech(ctx)
		if err != nil {
			log.Fatalf("Speech init error: %v", err)
		}
		defer speech.Close()

		audio := services.NewAudioService(chunkRepo, store, services.NewRedisAudioQueue(config.RedisClient, cfg.Audio.Stream), 0)
		deps.Audio = handlers.NewAudioHandler(tests, audio)

		pool := &workers.AudioWorkerPool{
			Redis:      config.RedisClient,
			Audio:      audio,
			Sessions:   tests,
			Events:     events,
			STT:        speech,
			NumWorkers: cfg.Audio.Workers,
			Logger:     log,
			Stream:     cfg.Audio.Stream,
		}
		if err := pool.Start(ctx); err != nil {
			log.Fatalf("audio workers error: %v", err)
		}
	} else {
		log.Warn("audio.bucket not set, audio upload is disabled")
	}

	sweeper := workers.NewSessionSweeper(tests, cfg.Sweeper.Interval, cfg.Sweeper.MaxAge, log)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("sweeper error: %v", err)
	}
	defer sweeper.Stop()

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	routes.RegisterRoutes(r, deps)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
