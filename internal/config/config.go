package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Default configuration values
const (
	DefaultServer           = "ws://localhost:8080/ws"
	DefaultSTUN             = "stun:stun.l.google.com:19302"
	DefaultOutputDir        = "."
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultMaxPayloadBytes  = DefaultMaxDownloadBytes
)

// Config holds participant configuration
type Config struct {
	// WebSocketURL is the relay endpoint.
	WebSocketURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// OutputDir receives every loaded track.
	OutputDir string

	// PlayerCommand is run with the track path appended when playback starts.
	// Empty means tracks are only written to OutputDir.
	PlayerCommand string

	HandshakeTimeout time.Duration
	MaxPayloadBytes  int64
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile string

	Server     string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	OutputDir        string
	PlayerCommand    string
	HandshakeTimeout time.Duration
}

// fileConfig is the YAML layout accepted by --config.
type fileConfig struct {
	Server           string `yaml:"server"`
	STUNServer       string `yaml:"stun_server"`
	TURNServer       string `yaml:"turn_server"`
	TURNUser         string `yaml:"turn_username"`
	TURNPass         string `yaml:"turn_password"`
	ForceRelay       bool   `yaml:"force_relay"`
	OutputDir        string `yaml:"output_dir"`
	PlayerCommand    string `yaml:"player_command"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. The YAML file named by Options.ConfigFile, if any
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	var file fileConfig
	if opts.ConfigFile != "" {
		data, err := os.ReadFile(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", opts.ConfigFile, err)
		}
	}

	server := first(opts.Server, os.Getenv("SYNCWAVE_SERVER"), file.Server, DefaultServer)
	wsURL, err := websocketURL(server)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		WebSocketURL:    wsURL,
		STUNServer:      first(opts.STUNServer, os.Getenv("STUN_SERVER"), file.STUNServer, DefaultSTUN),
		TURNServer:      first(opts.TURNServer, os.Getenv("TURN_SERVER"), file.TURNServer),
		TURNUser:        first(opts.TURNUser, os.Getenv("TURN_USERNAME"), file.TURNUser),
		TURNPass:        first(opts.TURNPass, os.Getenv("TURN_PASSWORD"), file.TURNPass),
		OutputDir:       first(opts.OutputDir, os.Getenv("SYNCWAVE_OUTPUT_DIR"), file.OutputDir, DefaultOutputDir),
		PlayerCommand:   first(opts.PlayerCommand, os.Getenv("SYNCWAVE_PLAYER"), file.PlayerCommand),
		MaxPayloadBytes: DefaultMaxPayloadBytes,
	}

	relay, err := envBool("FORCE_RELAY", file.ForceRelay)
	if err != nil {
		return nil, err
	}
	cfg.ForceRelay = opts.ForceRelay || relay

	switch {
	case opts.HandshakeTimeout > 0:
		cfg.HandshakeTimeout = opts.HandshakeTimeout
	default:
		fallback := DefaultHandshakeTimeout
		if file.HandshakeTimeout != "" {
			if fallback, err = time.ParseDuration(file.HandshakeTimeout); err != nil {
				return nil, fmt.Errorf("handshake_timeout: %w", err)
			}
		}
		if cfg.HandshakeTimeout, err = envDuration("SYNCWAVE_HANDSHAKE_TIMEOUT", fallback); err != nil {
			return nil, err
		}
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

// websocketURL accepts either a full ws(s):// URL or a bare domain.
func websocketURL(server string) (string, error) {
	if !strings.Contains(server, "://") {
		return fmt.Sprintf("wss://%s/ws", server), nil
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// GetRoomLink returns a shareable link for a room ID
func (c *Config) GetRoomLink(roomID string) string {
	u, err := url.Parse(c.WebSocketURL)
	if err != nil {
		return roomID
	}
	scheme := "https"
	if u.Scheme == "ws" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/r/%s", scheme, u.Host, roomID)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turn:"), "turns:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
