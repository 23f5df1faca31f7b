package config

import (
	"fmt"
	"time"

	"github.com/target/portfolio-ui/internal/cryptoutil"
)

// RedisConfig contains Redis configuration for persisted provider sessions.
// Leave URI empty to keep sessions in process memory.
type RedisConfig struct {
	URI                string        `env:"URI"                  envDefault:""`
	Password           string        `env:"PASSWORD"             envDefault:""`
	DB                 int           `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string      `env:"SENTINEL_NODES"       envDefault:""`
	SentinelMasterName string        `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string        `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool          `env:"USE_SENTINEL"         envDefault:"false"`
	KeyPrefix          string        `env:"KEY_PREFIX"           envDefault:"auth-token:"`
	Retention          time.Duration `env:"RETENTION"            envDefault:"168h"`
	// EncryptionKey is a base64 32-byte key. When set, sessions are sealed with AES-256-GCM.
	EncryptionKey string `env:"ENCRYPTION_KEY" envDefault:""`
}

// Enabled reports whether a Redis connection is configured.
func (r RedisConfig) Enabled() bool {
	return r.URI != "" || (r.UseSentinel && len(r.SentinelNodes) > 0)
}

// Validate checks the encryption key decodes when one is given.
func (r RedisConfig) Validate() error {
	if r.EncryptionKey == "" {
		return nil
	}
	if _, err := cryptoutil.ParseKey(r.EncryptionKey); err != nil {
		return fmt.Errorf("REDIS_ENCRYPTION_KEY: %w", err)
	}
	return nil
}
