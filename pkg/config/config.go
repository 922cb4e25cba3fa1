// Package config loads process configuration for the upmirror daemons.
//
// Precedence, lowest to highest: package defaults, an optional TOML file,
// environment variables. The environment names match the deployment
// contract of the original service (ORG_NAME, FEED_ID, PAT, MONGO_*, ...),
// so existing container setups keep working.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/upmirror/pkg/errors"
)

// Environment variable names.
const (
	EnvOrgName        = "ORG_NAME"
	EnvFeedID         = "FEED_ID"
	EnvPAT            = "PAT"
	EnvFallbackAuthor = "FALLBACK_AUTHOR"
	EnvRefresh        = "REFRESH"
	EnvSyncWorkers    = "SYNC_WORKERS"
	EnvFetchTimeout   = "FETCH_TIMEOUT"
	EnvWipeDB         = "WIPE_DB"

	EnvStoreBackend = "STORE_BACKEND"
	EnvMongoHost    = "MONGO_HOST"
	EnvMongoPort    = "MONGO_PORT"
	EnvMongoUser    = "MONGO_USER"
	EnvMongoPass    = "MONGO_PASS"
	EnvMongoDB      = "MONGO_DB"

	EnvServerPort = "SERVER_PORT"
	EnvLicense    = "LICENSE"
	EnvRedisAddr  = "REDIS_ADDR"
	EnvCacheTTL   = "CACHE_TTL"
)

// Store backend names.
const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

// Defaults for optional settings.
const (
	DefaultRefresh    = 900 // seconds
	DefaultMongoPort  = 27017
	DefaultServerPort = 8080
	DefaultLicense    = "proprietary"
)

// Mongo holds metadata store connection settings.
type Mongo struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
}

// Redis holds optional response cache settings. An empty Addr disables the
// cache entirely.
type Redis struct {
	Addr     string `toml:"addr"`
	CacheTTL int    `toml:"cache_ttl"` // seconds; 0 disables caching
}

// Config is the full process configuration. The sync daemon and the HTTP
// adapter read different subsets; see ValidateSync and ValidateServe.
type Config struct {
	// Upstream feed access.
	Org            string `toml:"org"`
	Feed           string `toml:"feed"`
	PAT            string `toml:"pat"`
	FallbackAuthor string `toml:"fallback_author"`

	// Sync scheduling.
	Refresh      int  `toml:"refresh"`       // seconds between cycle starts
	SyncWorkers  int  `toml:"sync_workers"`  // concurrent per-package fetches
	FetchTimeout int  `toml:"fetch_timeout"` // seconds per package fetch
	WipeDB       bool `toml:"wipe_db"`       // wipe the store before the first cycle

	// Store selection and connection.
	StoreBackend string `toml:"store"`
	Mongo        Mongo  `toml:"mongo"`

	// HTTP adapter.
	ServerPort int    `toml:"server_port"`
	License    string `toml:"license"`
	Redis      Redis  `toml:"redis"`
}

func defaults() *Config {
	return &Config{
		Refresh:      DefaultRefresh,
		StoreBackend: StoreMongo,
		Mongo:        Mongo{Port: DefaultMongoPort},
		ServerPort:   DefaultServerPort,
		License:      DefaultLicense,
	}
}

// Load builds the configuration from defaults, the optional TOML file at
// path (empty path skips the file), and environment variables, in that
// order.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "read config file %s", path)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Org, EnvOrgName)
	setString(&c.Feed, EnvFeedID)
	setString(&c.PAT, EnvPAT)
	setString(&c.FallbackAuthor, EnvFallbackAuthor)
	setString(&c.StoreBackend, EnvStoreBackend)
	setString(&c.Mongo.Host, EnvMongoHost)
	setString(&c.Mongo.User, EnvMongoUser)
	setString(&c.Mongo.Password, EnvMongoPass)
	setString(&c.Mongo.Database, EnvMongoDB)
	setString(&c.License, EnvLicense)
	setString(&c.Redis.Addr, EnvRedisAddr)

	for _, v := range []struct {
		dst *int
		env string
	}{
		{&c.Refresh, EnvRefresh},
		{&c.SyncWorkers, EnvSyncWorkers},
		{&c.FetchTimeout, EnvFetchTimeout},
		{&c.Mongo.Port, EnvMongoPort},
		{&c.ServerPort, EnvServerPort},
		{&c.Redis.CacheTTL, EnvCacheTTL},
	} {
		if err := setInt(v.dst, v.env); err != nil {
			return err
		}
	}

	// Presence alone turns the wipe on, matching the original deployment
	// contract.
	if _, ok := os.LookupEnv(EnvWipeDB); ok {
		c.WipeDB = true
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return errors.New(errors.ErrCodeInvalidConfig, "environment variable %s is not an integer: %q", env, v)
	}
	*dst = n
	return nil
}

// ValidateSync checks the settings the sync daemon needs.
func (c *Config) ValidateSync() error {
	switch {
	case c.Org == "":
		return missing(EnvOrgName, "organization name")
	case c.Feed == "":
		return missing(EnvFeedID, "feed identifier")
	case c.PAT == "":
		return missing(EnvPAT, "personal access token")
	case c.FallbackAuthor == "":
		return missing(EnvFallbackAuthor, "fallback author")
	case c.Refresh <= 0:
		return errors.New(errors.ErrCodeInvalidConfig, "refresh interval must be positive")
	}
	return c.validateStore()
}

// ValidateServe checks the settings the HTTP adapter needs.
func (c *Config) ValidateServe() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return errors.New(errors.ErrCodeInvalidConfig, "server port %d out of range", c.ServerPort)
	}
	return c.validateStore()
}

func (c *Config) validateStore() error {
	switch c.StoreBackend {
	case StoreMemory:
		return nil
	case StoreMongo:
		switch {
		case c.Mongo.Host == "":
			return missing(EnvMongoHost, "MongoDB host")
		case c.Mongo.Port <= 0 || c.Mongo.Port > 65535:
			return errors.New(errors.ErrCodeInvalidConfig, "MongoDB port %d out of range", c.Mongo.Port)
		case c.Mongo.User == "":
			return missing(EnvMongoUser, "MongoDB username")
		case c.Mongo.Password == "":
			return missing(EnvMongoPass, "MongoDB password")
		case c.Mongo.Database == "":
			return missing(EnvMongoDB, "MongoDB database")
		}
		return nil
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "unknown store backend %q", c.StoreBackend)
	}
}

func missing(env, what string) error {
	return errors.New(errors.ErrCodeInvalidConfig, "%s is required (set %s)", what, env)
}

// MongoURI builds the connection string for the configured MongoDB,
// authenticating against the admin database.
func (c *Config) MongoURI() string {
	return fmt.Sprintf("mongodb://%s@%s/?authSource=admin",
		url.UserPassword(c.Mongo.User, c.Mongo.Password).String(),
		fmt.Sprintf("%s:%d", c.Mongo.Host, c.Mongo.Port))
}

// RefreshInterval returns the sync interval as a duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh) * time.Second
}

// FetchTimeoutDuration returns the per-package fetch timeout as a duration;
// zero means "use the synchronizer default".
func (c *Config) FetchTimeoutDuration() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Second
}

// CacheTTLDuration returns the response cache TTL as a duration; zero
// disables caching.
func (c *Config) CacheTTLDuration() time.Duration {
	return time.Duration(c.Redis.CacheTTL) * time.Second
}
