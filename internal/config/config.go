package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// NewConfig loads the YAML config at the given path and layers FORMBASE_*
// environment variables on top (FORMBASE_HTTP_PORT overrides http.port, etc.).
func NewConfig(path string) (*viper.Viper, error) {
	conf := viper.New()
	conf.SetConfigFile(path)
	conf.SetEnvPrefix("FORMBASE")
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	conf.AutomaticEnv()

	setDefaults(conf)

	if err := conf.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return conf, nil
}

func setDefaults(conf *viper.Viper) {
	conf.SetDefault("env", "local")
	conf.SetDefault("http.host", "0.0.0.0")
	conf.SetDefault("http.port", 8000)

	conf.SetDefault("data.database_url", "sqlite://./formbase.db")
	conf.SetDefault("data.max_open_conns", 25)
	conf.SetDefault("data.max_idle_conns", 5)
	conf.SetDefault("data.conn_max_lifetime", "5m")

	conf.SetDefault("dhis2.timeout", "30s")
	conf.SetDefault("dhis2.import_timeout", "10m")

	conf.SetDefault("sync.batch_size", 20)
	conf.SetDefault("sync.staging_dir", "./staging")
	conf.SetDefault("sync.staging_max_age", "24h")
	conf.SetDefault("sync.sweep_interval", "@every 1h")

	// Empty means the ENCRYPTION_KEY environment variable is used
	conf.SetDefault("encryption.key", "")

	conf.SetDefault("log.level", "info")
	conf.SetDefault("log.encoding", "json")
	conf.SetDefault("log.filename", "")
	conf.SetDefault("log.max_size", 100)
	conf.SetDefault("log.max_backups", 10)
	conf.SetDefault("log.max_age", 30)
}
