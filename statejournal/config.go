package statejournal

import (
	"os"
	"reflect"
	"strings"

	"github.com/naoina/toml"
)

// Backend selects which kvstore.KeyValueStore implementation a Config opens.
type Backend string

const (
	BackendLevelDB Backend = "leveldb"
	BackendPebble  Backend = "pebble"
)

// Config is the TOML-loadable configuration for a State Journal instance.
type Config struct {
	// Dir is the directory holding state_journal, state_journal.idx, the
	// writer lock file, and the KV backend's own files.
	Dir string

	// Backend selects the KV store implementation.
	Backend Backend

	// CacheMB and Handles are passed through to the KV backend.
	CacheMB int
	Handles int

	// ReadCacheBytes sizes the buffer's fastcache read-through cache; 0
	// disables it.
	ReadCacheBytes int

	// BloomBits sizes the buffer's negative-lookup bloom filter in bits;
	// 0 disables it.
	BloomBits uint64
}

// DefaultConfig returns the configuration this package uses when none is
// supplied.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendLevelDB,
		CacheMB:        16,
		Handles:        64,
		ReadCacheBytes: 8 * 1024 * 1024,
		BloomBits:      8 * 1024 * 1024,
	}
}

// tomlSettings mirrors this codebase's node-config TOML dialect: field
// names are matched case-insensitively with underscores ignored.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return strings.ToLower(strings.Replace(key, "_", "", -1))
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error { return nil },
}

// LoadConfig reads a Config from a TOML file, starting from DefaultConfig
// and overlaying whatever the file specifies.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := tomlSettings.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
