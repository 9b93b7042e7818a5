package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"council/internal/config"
	"council/internal/database"
	"council/internal/handlers"
	applog "council/internal/log"
	"council/internal/narrator"
	"council/internal/presence"
	"council/internal/service"
	"council/pkg/auth"
)

type Server struct {
	Router *gin.Engine
	Config config.Config
}

func New() *Server {
	cfg := config.Load()
	applog.Init(cfg.Env)
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect failed")
	}
	if err := database.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	store := database.NewStore(gdb)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis connect failed")
	}

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.AccessTokenTTL)
	nc := narrator.New(cfg.NarratorBaseURL, cfg.NarratorToken, cfg.NarratorTimeout)
	if !nc.Configured() {
		log.Warn().Msg("narration service not configured; assistant turns will degrade")
	}
	typing := presence.NewTracker(cfg.TypingTTL)

	ledger := service.NewLedger(store)
	voting := service.NewVoting(store)
	rooms := service.NewRooms(store, ledger, voting, nc, typing)

	authH := handlers.NewAuthHandler(store, ledger, jwtMgr, rdb)
	userH := handlers.NewUserHandler(ledger)
	roomH := handlers.NewRoomHandler(rooms)
	proposalH := handlers.NewProposalHandler(rooms, voting)
	actionH := handlers.NewActionHandler(rooms, voting, ledger)

	router := gin.New()
	router.Use(gin.Recovery())
	Routes(router, cfg, store, jwtMgr, rdb, authH, userH, roomH, proposalH, actionH)

	return &Server{Router: router, Config: cfg}
}

func (s *Server) Run() {
	log.Info().Str("port", s.Config.Port).Msg("server starting")
	if err := s.Router.Run(":" + s.Config.Port); err != nil {
		log.Fatal().Err(err).Msg("server run error")
	}
}
