package mempool

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds pool tunables.
type Config struct {
	// TrimThreshold is the number of cached blocks a single bin can hold
	// before the pool starts releasing memory back to the backend on block
	// release. 0 caches without bound; trimming then only happens via
	// FreeHeld, StopHolding or the out-of-resource reclaim path.
	TrimThreshold int `toml:"trim_threshold"`

	// Guard fingerprints cached blocks and verifies them on reuse, to detect
	// writes through stale handles while a block sits in the cache. It
	// requires host-addressable handles such as PinnedBackend's; pools over
	// context-bound backends ignore it.
	Guard bool `toml:"guard"`

	Pinned PinnedConfig `toml:"pinned"`

	// ReleaseHook overrides the process-wide release hook for this pool.
	ReleaseHook func() `toml:"-"`

	// Logger defaults to slog.Default.
	Logger *slog.Logger `toml:"-"`
}

// PinnedConfig holds tunables for the pinned host-memory backend.
type PinnedConfig struct {
	// Lock pins mapped pages into physical memory with mlock(2).
	Lock bool `toml:"lock"`
}

func DefaultConfig() Config {
	return Config{
		TrimThreshold: 0,
		Guard:         false,
		Pinned:        PinnedConfig{Lock: true},
	}
}

// LoadConfig reads a Config from a TOML file. Unknown keys and out-of-range
// values fail fast with ErrUnrecognizedConfig rather than being silently
// defaulted.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	md, err := toml.DecodeFile(path, &config)
	if err != nil {
		return Config{}, fmt.Errorf("decoding pool config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: unknown key(s) %s", ErrUnrecognizedConfig, strings.Join(keys, ", "))
	}
	if config.TrimThreshold < 0 {
		return Config{}, fmt.Errorf("%w: trim_threshold must be >= 0, got %d", ErrUnrecognizedConfig, config.TrimThreshold)
	}
	return config, nil
}
