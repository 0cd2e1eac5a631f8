// Package config holds configuration for the relay server and the caller CLI.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Default STUN servers for ICE candidate gathering. No TURN: sessions that
// would need a media relay surface a connection failure instead.
var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Relay holds the signaling relay server configuration.
type Relay struct {
	Port           string
	AllowedOrigins []string // empty means allow all
}

// Call holds the caller-side configuration.
type Call struct {
	RelayURL    string
	RoomID      string
	STUNServers []string
	// ElectDelay is how long after joining an orchestrator waits before
	// deciding it is the offerer. Must exceed the relay's join-broadcast
	// round trip.
	ElectDelay time.Duration
}

// LoadRelay reads relay configuration from the environment.
func LoadRelay() Relay {
	cfg := Relay{
		Port: getEnv("RELAY_PORT", "8080"),
	}
	if origins := os.Getenv("RELAY_ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	return cfg
}

// LoadCall reads caller configuration from the environment.
func LoadCall() Call {
	cfg := Call{
		RelayURL:    getEnv("CALL_RELAY_URL", "ws://localhost:8080/ws"),
		RoomID:      os.Getenv("CALL_ROOM"),
		STUNServers: defaultSTUNServers,
		ElectDelay:  2 * time.Second,
	}
	if servers := os.Getenv("CALL_STUN_SERVERS"); servers != "" {
		cfg.STUNServers = strings.Split(servers, ",")
	}
	if d := os.Getenv("CALL_ELECT_DELAY"); d != "" {
		if ms, err := strconv.Atoi(d); err == nil && ms > 0 {
			cfg.ElectDelay = time.Duration(ms) * time.Millisecond
		}
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
