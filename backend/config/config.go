// Package config holds relay settings. Values come from command line flags,
// then environment variables, then defaults.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adwski/webrtc-meshrelay/backend/storage/memory"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const envPrefix = "MESHRELAY_"

var (
	ErrInvalid = errors.New("invalid configuration")
)

// legacyEnv maps flags to the environment names earlier deployments used.
// They are consulted after the prefixed name.
var legacyEnv = map[string]string{
	"max-participants":    "MAX_PARTICIPANTS_PER_ROOM",
	"room-sweep-interval": "ROOM_CLEANUP_INTERVAL",
	"keepalive-url":       "RENDER_EXTERNAL_URL",
}

type Config struct {
	APIListenAddr string
	WSListenAddr  string
	LogLevel      string

	MaxParticipants int
	HistorySize     int
	PasswordCost    int

	PingInterval  time.Duration
	PongWait      time.Duration
	SendQueueSize int

	ZombieSweepInterval time.Duration
	ZombieThreshold     time.Duration
	RoomSweepInterval   time.Duration

	RedisAddr     string
	RedisPassword string
	JoinLimit     int
	JoinWindow    time.Duration

	TrustedProxies []string

	KeepAliveURL      string
	KeepAliveInterval time.Duration
}

// Bind registers all settings on fs with their defaults.
func (c *Config) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&c.APIListenAddr, "api-listen-addr", "a", ":8080", "api listen address")
	fs.StringVarP(&c.WSListenAddr, "ws-listen-addr", "w", ":8888", "websocket signaling listen address")
	fs.StringVarP(&c.LogLevel, "log-level", "l", "info", "log level")

	fs.IntVar(&c.MaxParticipants, "max-participants", 16, "maximum participants per room")
	fs.IntVar(&c.HistorySize, "history-size", 100, "chat messages kept per room")
	fs.IntVar(&c.PasswordCost, "password-cost", 4,
		fmt.Sprintf("bcrypt cost for room passwords, at most %d", memory.MaxPasswordCost))

	fs.DurationVar(&c.PingInterval, "ping-interval", 30*time.Second, "websocket ping interval")
	fs.DurationVar(&c.PongWait, "pong-wait", 60*time.Second, "how long to wait for client traffic before dropping it")
	fs.IntVar(&c.SendQueueSize, "send-queue-size", 256, "outbound messages buffered per connection")

	fs.DurationVar(&c.ZombieSweepInterval, "zombie-sweep-interval", time.Minute, "how often stale connections are collected")
	fs.DurationVar(&c.ZombieThreshold, "zombie-threshold", 10*time.Minute, "age after which an unreachable connection is stale")
	fs.DurationVar(&c.RoomSweepInterval, "room-sweep-interval", time.Hour, "how often empty rooms are collected")

	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis address for join rate limiting, disabled when empty")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&c.JoinLimit, "join-limit", 30, "join attempts allowed per client address and window")
	fs.DurationVar(&c.JoinWindow, "join-window", time.Minute, "join rate limit window")
	fs.StringSliceVar(&c.TrustedProxies, "trusted-proxies", nil,
		"proxy addresses or CIDRs whose X-Forwarded-For header is trusted")

	fs.StringVar(&c.KeepAliveURL, "keepalive-url", "", "external url pinged to keep the instance awake, disabled when empty")
	fs.DurationVar(&c.KeepAliveInterval, "keepalive-interval", 10*time.Minute, "keep-alive ping interval")
}

// EnvName returns the environment variable consulted for flag name.
func EnvName(name string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// ApplyEnv fills every flag that was not set on the command line from the
// environment. Bare integers given for durations are milliseconds.
func ApplyEnv(fs *pflag.FlagSet, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		val, ok := lookup(EnvName(f.Name))
		if !ok {
			legacy, has := legacyEnv[f.Name]
			if !has {
				return
			}
			if val, ok = lookup(legacy); !ok {
				return
			}
		}
		val = strings.TrimSpace(val)
		if f.Value.Type() == "duration" {
			if ms, err := strconv.ParseInt(val, 10, 64); err == nil {
				val = (time.Duration(ms) * time.Millisecond).String()
			}
		}
		if err := fs.Set(f.Name, val); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
		}
	})
	if len(errs) > 0 {
		return errors.Join(ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log-level: %w", err))
	}
	if c.MaxParticipants < 1 {
		errs = append(errs, errors.New("max-participants must be positive"))
	}
	if c.HistorySize < 1 {
		errs = append(errs, errors.New("history-size must be positive"))
	}
	// hashing runs on the relay loop, expensive costs stall every room
	if c.PasswordCost < memory.MinPasswordCost || c.PasswordCost > memory.MaxPasswordCost {
		errs = append(errs, fmt.Errorf("password-cost must be within %d..%d",
			memory.MinPasswordCost, memory.MaxPasswordCost))
	}
	if c.PingInterval <= 0 || c.PongWait <= c.PingInterval {
		errs = append(errs, errors.New("pong-wait must exceed a positive ping-interval"))
	}
	if c.SendQueueSize < 1 {
		errs = append(errs, errors.New("send-queue-size must be positive"))
	}
	if c.ZombieSweepInterval <= 0 || c.ZombieThreshold <= 0 || c.RoomSweepInterval <= 0 {
		errs = append(errs, errors.New("sweep intervals must be positive"))
	}
	if c.JoinLimit < 1 || c.JoinWindow <= 0 {
		errs = append(errs, errors.New("join rate limit must be positive"))
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if c.KeepAliveURL != "" && c.KeepAliveInterval <= 0 {
		errs = append(errs, errors.New("keepalive-interval must be positive"))
	}
	if len(errs) > 0 {
		return errors.Join(ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// TrustedProxyPrefixes parses TrustedProxies. Bare addresses become single host prefixes.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, entry := range c.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted-proxies: %w", err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted-proxies: %w", err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
