package main

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/party-room-system/internal/config"
	"github.com/party-room-system/internal/server"
	"github.com/party-room-system/internal/spotify"
	"github.com/party-room-system/pkg/database"
	"github.com/party-room-system/pkg/events"
	"github.com/party-room-system/pkg/log"
)

func main() {
	godotenv.Load()

	cfg, err := config.LoadServer()
	if err != nil {
		panic(err)
	}

	log.Init(cfg.Log)
	logger := log.L()

	gin.SetMode(gin.ReleaseMode)

	var db *database.DB
	switch cfg.Database.Driver {
	case "mysql":
		db, err = database.NewMySQL(
			cfg.Database.Host,
			strconv.Itoa(cfg.Database.Port),
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.DBName,
		)
	default:
		db, err = database.NewSQLite(cfg.Database.FilePath)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	var cache *goredis.Client
	if cfg.Redis.Enabled {
		cache = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pub *events.Publisher
	if cfg.Kafka.Enabled {
		pub = events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer pub.Close()
	}

	spotifyClient := spotify.NewClient(
		cfg.Spotify.ClientID,
		cfg.Spotify.ClientSecret,
		cfg.Spotify.RedirectURI,
	)

	service := server.NewService(db, cache, pub, spotifyClient, logger)
	handler := server.NewHandler(service, cfg.Frontend.URL, logger)
	router := server.NewRouter(handler, logger)

	addr := cfg.Server.Addr()
	logger.Info().Str("addr", addr).Msg("server starting")
	if err := router.Run(addr); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}
