package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/realxtend/cloudrender/config"
	"github.com/realxtend/cloudrender/internal/relay"
)

func main() {
	cfg := config.Load()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("service", "relay")

	store := relay.NewStore(connectRedis(cfg.Redis, log), log)
	hub := relay.NewHub(store, cfg.Relay.MaxRoomPeers, log)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(relay.OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/auth/login", relay.Login(cfg.JWTSecret))
		api.POST("/rooms", relay.JWTAuth(cfg.JWTSecret), hub.CreateRoom)
		api.GET("/rooms/:roomId", hub.GetRoom)
		api.DELETE("/rooms/:roomId", relay.JWTAuth(cfg.JWTSecret), hub.DeleteRoom)
	}

	// Signaling endpoint; peers identify themselves with their first
	// message, so no room appears in the URL.
	router.GET("/ws", hub.HandleSignaling)

	log.Info("starting signaling relay", "port", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// connectRedis dials the room mirror. The relay runs without it; a failed
// ping only disables out-of-band room inspection.
func connectRedis(cfg config.RedisConfig, log *slog.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable, room mirror disabled", "error", err)
		client.Close()
		return nil
	}
	log.Info("redis connection established", "addr", cfg.Host+":"+cfg.Port)
	return client
}
