// Package policy loads the forwarding allow-list that governs which
// destinations the jet channel's host role is willing to name in a
// forward_to command. This is a config surface, not a protocol change:
// tcpconnector.Connector.AllowPortForwarding still takes the plain bool it
// always did; policy just supplies it from disk instead of a flag.
package policy

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Forwarding is the parsed allow-list: AllowPortForwarding is the peer-side
// consent flag, Destinations is the host-side set of "host:port" entries
// the host is permitted to forward to.
type Forwarding struct {
	AllowPortForwarding bool     `mapstructure:"allow_port_forwarding"`
	Destinations        []string `mapstructure:"destinations"`
}

// Allowed reports whether dest (already formatted "host:port") is on the
// allow-list. An empty list permits nothing, matching the engine's
// default-deny posture.
func (f Forwarding) Allowed(dest string) bool {
	for _, d := range f.Destinations {
		if d == dest {
			return true
		}
	}
	return false
}

// Store watches a YAML policy file and serves the most recently loaded
// Forwarding value. The zero value (file never loaded) denies everything.
type Store struct {
	log  zerolog.Logger
	v    *viper.Viper
	mu   sync.RWMutex
	cur  Forwarding
}

// Load reads path, and if it exists, watches it for changes, hot-reloading
// the effective policy without a process restart. An empty path is valid —
// Store then serves the always-deny zero value.
func Load(path string, log zerolog.Logger) (*Store, error) {
	s := &Store{log: log, v: viper.New()}
	if path == "" {
		return s, nil
	}
	s.v.SetConfigFile(path)
	if err := s.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading forwarding policy %s: %w", path, err)
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	s.v.OnConfigChange(func(_ fsnotify.Event) {
		if err := s.reload(); err != nil {
			s.log.Error().Err(err).Msg("failed to reload forwarding policy")
			return
		}
		s.log.Info().Msg("forwarding policy reloaded")
	})
	s.v.WatchConfig()
	return s, nil
}

func (s *Store) reload() error {
	var f Forwarding
	if err := s.v.Unmarshal(&f); err != nil {
		return fmt.Errorf("parsing forwarding policy: %w", err)
	}
	s.mu.Lock()
	s.cur = f
	s.mu.Unlock()
	return nil
}

// Current returns the most recently (re)loaded policy.
func (s *Store) Current() Forwarding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Allowed implements tcpconnector.DestinationPolicy directly against the
// most recently (re)loaded policy, so callers don't need to re-fetch
// Current() themselves after a hot reload.
func (s *Store) Allowed(dest string) bool {
	return s.Current().Allowed(dest)
}
