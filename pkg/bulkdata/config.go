package bulkdata

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/bulkdata/engine/internal/bytesize"
)

// Config is the engine-wide policy knob set, loaded via viper the way the
// teacher's pkg/config loads its server config: environment variables
// (BULKDATA_ prefix) override a YAML file which overrides these defaults.
type Config struct {
	// DefaultAlignment is the allocation alignment used when an instance
	// does not request one explicitly.
	DefaultAlignment int `mapstructure:"default_alignment" yaml:"default_alignment"`

	// MinStreamSize is the payload size above which an eligible inline load
	// is dispatched to the async queue instead of read synchronously.
	// Accepts human-readable sizes ("1Mi", "512KB") via bytesize.ByteSize's
	// encoding.TextUnmarshaler, both from YAML and from BULKDATA_MIN_STREAM_SIZE.
	MinStreamSize bytesize.ByteSize `mapstructure:"min_stream_size" yaml:"min_stream_size"`

	// StreamWorkers is the number of background fetch workers.
	StreamWorkers int `mapstructure:"stream_workers" yaml:"stream_workers"`

	// Cooked marks the running process as operating on a cooked (shipping,
	// read-only) build, part of the async-streaming eligibility predicate.
	Cooked bool `mapstructure:"cooked" yaml:"cooked"`

	// MultithreadingAvailable gates async-streaming eligibility; false on
	// single-threaded hosts (e.g. certain embedded targets).
	MultithreadingAvailable bool `mapstructure:"multithreading_available" yaml:"multithreading_available"`

	// LoadPolicy controls cooked-load-time flag behavior.
	LoadPolicy LoadPolicy `mapstructure:"load_policy" yaml:"load_policy"`
}

// LoadPolicy controls load-time-only behavior that does not affect the
// on-disk format.
type LoadPolicy struct {
	// ForceSingleUseOnCookedLoad resolves spec.md §9's open question about
	// the source's disabled "set SingleUse at cooked load time" branch.
	// Default false: never auto-enabled, matching the instruction not to
	// turn this on by default. A host process that wants the behavior
	// (every cooked-load payload treated as single-use) sets this true
	// explicitly.
	ForceSingleUseOnCookedLoad bool `mapstructure:"force_single_use_on_cooked_load" yaml:"force_single_use_on_cooked_load"`
}

// DefaultAlignment matches the common SIMD/page-friendly alignment used
// throughout the teacher's buffer pool.
const defaultAlignment = 16

// DefaultConfig returns the engine's out-of-the-box policy.
func DefaultConfig() Config {
	return Config{
		DefaultAlignment:        defaultAlignment,
		MinStreamSize:           131072,
		StreamWorkers:           4,
		Cooked:                  false,
		MultithreadingAvailable: true,
	}
}

// LoadConfig loads configuration from an optional YAML file, environment
// variables (BULKDATA_*), and defaults, in that order of precedence —
// matching the teacher's Load(configPath).
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BULKDATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv alone only resolves keys viper already knows from a file
	// or a default; binding each key lets an environment override apply
	// even when no config file sets it.
	for _, key := range []string{
		"default_alignment", "min_stream_size", "stream_workers", "cooked",
		"multithreading_available", "load_policy.force_single_use_on_cooked_load",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				cfg := DefaultConfig()
				return &cfg, nil
			}
			return nil, fmt.Errorf("bulkdata: read config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("bulkdata: unmarshal config: %w", err)
	}

	if cfg.DefaultAlignment <= 0 || cfg.DefaultAlignment&(cfg.DefaultAlignment-1) != 0 {
		return nil, fmt.Errorf("bulkdata: default_alignment must be a positive power of two, got %d", cfg.DefaultAlignment)
	}
	if cfg.StreamWorkers <= 0 {
		cfg.StreamWorkers = DefaultConfig().StreamWorkers
	}

	return &cfg, nil
}
