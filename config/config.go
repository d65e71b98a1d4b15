// Package config loads service and peer configuration from environment
// variables, with development-friendly defaults.
package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	Redis          RedisConfig
	Relay          RelayConfig
	Peer           PeerConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// RelayConfig tunes the signaling relay service.
type RelayConfig struct {
	// MaxRoomPeers caps clients per room when a provisioned room carries
	// no limit of its own.
	MaxRoomPeers int
}

// PeerConfig holds defaults for the renderer/client peer binary; command
// line flags override these.
type PeerConfig struct {
	// ServiceHost is the relay's websocket endpoint.
	ServiceHost string
	// RoomID is the room a client asks to join; empty lets the relay pick.
	RoomID string
	// SendWebCamera swaps a renderer's outgoing video from the rendered
	// view to a local camera feed.
	SendWebCamera bool
	// CreatePrivateRoom asks the relay for a room closed to auto-assignment.
	CreatePrivateRoom bool
	// ICEServers are the STUN/TURN servers peers gather candidates from.
	ICEServers []string
}

func Load() *Config {
	origins := strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"), ",")
	iceServers := strings.Split(getEnv("ICE_SERVERS", "stun:stun.l.google.com:19302"), ",")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		Relay: RelayConfig{
			MaxRoomPeers: getEnvInt("MAX_ROOM_PEERS", 8),
		},
		Peer: PeerConfig{
			ServiceHost:       getEnv("SERVICE_HOST", "ws://localhost:8080/ws"),
			RoomID:            getEnv("ROOM_ID", ""),
			SendWebCamera:     getEnvBool("SEND_WEB_CAMERA", false),
			CreatePrivateRoom: getEnvBool("CREATE_PRIVATE_ROOM", false),
			ICEServers:        iceServers,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
