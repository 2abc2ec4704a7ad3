/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package vertosdk

import (
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/spf13/viper"
)

// Signature algorithms accepted when inspecting login tokens. The token
// is never verified locally; the list only bounds the parser.
var allowedSignatureAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256, jose.RS256, jose.ES256,
}

// Config holds the configuration for the signaling client.
type Config struct {
	// Host is the signaling server hostname.
	Host string `mapstructure:"host"`

	// Port is the signaling server port.
	Port int `mapstructure:"port"`

	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`

	// PingInterval is the keepalive ping cadence.
	PingInterval time.Duration `mapstructure:"ping_interval"`

	// PongTimeout is how long to wait for a pong before the connection
	// is considered dead.
	PongTimeout time.Duration `mapstructure:"pong_timeout"`

	// RequestTimeout bounds every request/reply exchange.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// Logger is the logger for SDK operations. If nil, the standard
	// library's default logger (log.Default()) is used.
	Logger Logger `mapstructure:"-"`
}

// DefaultConfig returns a default configuration for the signaling client.
func DefaultConfig() *Config {
	return &Config{
		Host:             "rtc.telnyx.com",
		Port:             443,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      10 * time.Second,
		RequestTimeout:   10 * time.Second,
	}
}

// URL returns the WebSocket endpoint the client dials.
func (c *Config) URL() string {
	return fmt.Sprintf("wss://%s:%d", c.Host, c.Port)
}

// LoadConfig reads a YAML config file, falling back to defaults for any
// missing key. Environment variables prefixed VERTO_ override file values
// (VERTO_HOST, VERTO_PORT, ...).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetEnvPrefix("verto")
	v.AutomaticEnv()

	defaults := DefaultConfig()
	v.SetDefault("host", defaults.Host)
	v.SetDefault("port", defaults.Port)
	v.SetDefault("handshake_timeout", defaults.HandshakeTimeout)
	v.SetDefault("ping_interval", defaults.PingInterval)
	v.SetDefault("pong_timeout", defaults.PongTimeout)
	v.SetDefault("request_timeout", defaults.RequestTimeout)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// CredentialConfig authenticates with a SIP username and password.
type CredentialConfig struct {
	// Username is the SIP login.
	Username string `mapstructure:"username"`

	// Password is the SIP password.
	Password string `mapstructure:"password"`

	// FCMToken is an optional push token registered with the login.
	FCMToken string `mapstructure:"fcm_token"`

	// Ringtone and RingbackTone name the tone assets the host's tone
	// player resolves while calls ring.
	Ringtone     string `mapstructure:"ringtone"`
	RingbackTone string `mapstructure:"ringback_tone"`
}

// TokenConfig authenticates with a signed login token.
type TokenConfig struct {
	// Token is the signed SIP login token (a JWT).
	Token string `mapstructure:"token"`

	// FCMToken is an optional push token registered with the login.
	FCMToken string `mapstructure:"fcm_token"`

	Ringtone     string `mapstructure:"ringtone"`
	RingbackTone string `mapstructure:"ringback_tone"`
}

// validateToken parses the login token as a JWT and rejects it when the
// expiry claim has passed, so a stale token fails before any dial.
// Tokens that do not parse as JWTs pass through; the server decides.
func validateToken(token string) error {
	parsed, err := jwt.ParseSigned(token, allowedSignatureAlgorithms)
	if err != nil {
		return nil
	}
	var claims jwt.Claims
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return nil
	}
	if claims.Expiry != nil && claims.Expiry.Time().Before(time.Now()) {
		return newAuthError("login token is expired", 0, nil)
	}
	return nil
}
