package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server defaults.
const (
	DefaultListenAddr       = ":8080"
	DefaultRoomIDLength     = 4
	DefaultMaxDownloadBytes = 64 << 20
	DefaultDownloadTimeout  = 2 * time.Minute
)

// Server holds signaling server configuration.
type Server struct {
	ListenAddr       string
	RoomIDLength     int
	MaxDownloadBytes int64
	DownloadTimeout  time.Duration

	// FetchCommand, when set, names a yt-dlp compatible extractor used
	// instead of plain HTTP downloads.
	FetchCommand string

	// AllowPrivateFetch lets downloads reach private and loopback addresses.
	AllowPrivateFetch bool

	AllowedOrigins []string
}

// LoadServer reads server configuration from the environment.
func LoadServer() (*Server, error) {
	cfg := &Server{
		ListenAddr:     getEnv("LISTEN_ADDR", DefaultListenAddr),
		FetchCommand:   os.Getenv("FETCH_COMMAND"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
	}

	var err error
	if cfg.RoomIDLength, err = envInt("ROOM_ID_LENGTH", DefaultRoomIDLength); err != nil {
		return nil, err
	}
	if cfg.RoomIDLength < 1 {
		return nil, fmt.Errorf("ROOM_ID_LENGTH must be positive, got %d", cfg.RoomIDLength)
	}

	maxBytes, err := envInt("MAX_DOWNLOAD_BYTES", DefaultMaxDownloadBytes)
	if err != nil {
		return nil, err
	}
	cfg.MaxDownloadBytes = int64(maxBytes)

	if cfg.DownloadTimeout, err = envDuration("DOWNLOAD_TIMEOUT", DefaultDownloadTimeout); err != nil {
		return nil, err
	}
	if cfg.AllowPrivateFetch, err = envBool("ALLOW_PRIVATE_FETCH", false); err != nil {
		return nil, err
	}

	return cfg, nil
}

// AllowsOrigin reports whether a browser origin may open the websocket.
// Non-browser clients send no Origin header and are always allowed.
func (c *Server) AllowsOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
