// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/tahcohcat/studyquest/config"
	"github.com/tahcohcat/studyquest/internal/api"
	"github.com/tahcohcat/studyquest/internal/auth"
	"github.com/tahcohcat/studyquest/internal/database"
	"github.com/tahcohcat/studyquest/internal/logger"
	"github.com/tahcohcat/studyquest/internal/notify"
	"github.com/tahcohcat/studyquest/internal/scheduler"
	"github.com/tahcohcat/studyquest/internal/services"
	"github.com/tahcohcat/studyquest/internal/websocket"
	"github.com/tahcohcat/studyquest/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	log := logger.New()

	// Load config from files and environment variables
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("Failed to load config")
		os.Exit(1)
	}
	logger.SetGlobalLevel(cfg.Log.Level)
	log = logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.NewDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.WithError(err).Error("Failed to initialize database")
		os.Exit(1)
	}
	defer db.Close()

	// Event sinks
	hub := websocket.NewHub(cfg.Server.AllowedOrigins)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	publishers := notify.Multi{hub}
	if cfg.Redis.Enabled {
		redisPub, err := notify.NewRedisPublisher(ctx, notify.RedisConfig{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			ChannelPrefix: cfg.Redis.ChannelPrefix,
		})
		if err != nil {
			log.WithError(err).Warn("Redis publisher disabled")
		} else {
			defer redisPub.Close()
			publishers = append(publishers, redisPub)
			log.With("addr", cfg.Redis.Addr).Info("Publishing events to redis")
		}
	}

	// Recompute dispatcher
	var dispatcher services.Dispatcher = worker.Inline{}
	var pool *worker.Pool
	if cfg.Engine.AsyncRecompute {
		pool = worker.NewPool(cfg.Engine.Workers, cfg.Engine.QueueSize)
		dispatcher = pool
	}

	loc := cfg.Engine.Location()
	engine := services.NewEngine(db, services.Options{
		Location:   loc,
		Dispatcher: dispatcher,
		Publisher:  publishers,
	})
	if err := engine.Seed(ctx); err != nil {
		log.WithError(err).Error("Failed to seed catalogs")
		os.Exit(1)
	}

	// Scheduled jobs
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(loc)
		if _, err := sched.ScheduleDaily("generate-challenges", cfg.Scheduler.GenerateAt, func() {
			if _, err := engine.RunDaily(ctx); err != nil {
				log.WithError(err).Warn("Daily challenge generation failed")
			}
		}); err != nil {
			log.WithError(err).Error("Failed to schedule challenge generation")
			os.Exit(1)
		}
		if cfg.Scheduler.RecomputeInterval > 0 {
			if _, err := sched.ScheduleInterval("recompute-active", cfg.Scheduler.RecomputeInterval, func() {
				if _, err := engine.RecomputeActive(ctx); err != nil {
					log.WithError(err).Warn("Recompute sweep failed")
				}
			}); err != nil {
				log.WithError(err).Error("Failed to schedule recompute sweep")
				os.Exit(1)
			}
		}
		sched.Start()
	}

	authn := auth.New(auth.Options{
		SessionSecret:  cfg.Auth.SessionSecret,
		IdentityHeader: cfg.Auth.IdentityHeader,
		TrustHeader:    cfg.Auth.TrustIdentityHeader,
		DevLogin:       cfg.Auth.DevLogin,
	}, engine)

	r := mux.NewRouter()

	// Public routes (no authentication required)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}).Methods("GET")
	authn.RegisterRoutes(r)

	// Authenticated routes
	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(authn.Middleware)
	api.RegisterRoutes(apiRouter, engine)

	// WebSocket routes
	websocket.RegisterRoutes(apiRouter, hub)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.With("port", cfg.Server.Port).With("driver", cfg.Database.Driver).With("timezone", loc.String()).Info("StudyQuest server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	if pool != nil {
		if err := pool.Close(shutdownCtx); err != nil {
			log.WithError(err).Warn("Recompute queue not drained")
		}
	}
}
