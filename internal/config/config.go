// Package config loads the service configuration from YAML and the
// environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverDynamoDB = "dynamodb"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Auth      AuthConfig      `yaml:"auth"`
	Loans     LoansConfig     `yaml:"loans"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig selects the root logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig selects and configures the record store backend.
type StoreConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

type SQLiteConfig struct {
	Path         string        `yaml:"path"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
}

type DynamoDBConfig struct {
	Region            string `yaml:"region"`
	Endpoint          string `yaml:"endpoint"`
	RecordTable       string `yaml:"record_table"`
	RelationshipTable string `yaml:"relationship_table"`
	UniqueTable       string `yaml:"unique_table"`
	NumShards         int    `yaml:"num_shards"`
	InlineCascade     bool   `yaml:"inline_cascade"`
	CreateTables      bool   `yaml:"create_tables"`
}

// AuthConfig configures bearer tokens and password hashing.
type AuthConfig struct {
	TokenTTL   time.Duration `yaml:"token_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

// LoansConfig holds the fine rate and the loan policy of each user type.
type LoansConfig struct {
	FinePerDayCents int64                 `yaml:"fine_per_day_cents"`
	Policies        map[string]LoanPolicy `yaml:"policies"`
}

// LoanPolicy limits how many books a user type may hold and for how long.
type LoanPolicy struct {
	MaxBooks int `yaml:"max_books"`
	MaxDays  int `yaml:"max_days"`
}

// BootstrapConfig seeds user types and the first administrator.
type BootstrapConfig struct {
	UserTypes []UserTypeSeed `yaml:"user_types"`
	Admin     AdminSeed      `yaml:"admin"`
}

type UserTypeSeed struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// AdminSeed is created at start-up unless a user with Email exists.
// An empty Email disables it.
type AdminSeed struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              "127.0.0.1:8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "console"},
		Store: StoreConfig{
			Driver: DriverSQLite,
			SQLite: SQLiteConfig{
				Path:         "bibliodigit.db",
				BusyTimeout:  5 * time.Second,
				MaxOpenConns: 8,
			},
			DynamoDB: DynamoDBConfig{
				RecordTable:       "bibliodigit_records",
				RelationshipTable: "bibliodigit_relationships",
				UniqueTable:       "bibliodigit_unique_constraints",
				NumShards:         1,
				InlineCascade:     true,
			},
		},
		Auth: AuthConfig{TokenTTL: 24 * time.Hour, BcryptCost: 10},
		Loans: LoansConfig{
			FinePerDayCents: 100,
			Policies: map[string]LoanPolicy{
				"STUDENT":  {MaxBooks: 3, MaxDays: 14},
				"TEACHER":  {MaxBooks: 5, MaxDays: 30},
				"EXTERNAL": {MaxBooks: 2, MaxDays: 7},
				"ADMIN":    {MaxBooks: 10, MaxDays: 30},
			},
		},
		Bootstrap: BootstrapConfig{
			UserTypes: []UserTypeSeed{
				{Type: "ADMIN", Description: "Library administrator"},
				{Type: "STUDENT", Description: "Enrolled student"},
				{Type: "TEACHER", Description: "Teaching staff"},
				{Type: "EXTERNAL", Description: "External reader"},
			},
		},
	}
}

// Load reads the YAML file at path over Default, applies the environment
// and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config file: %s", path)
		}
		if err := cfg.Decode(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode merges YAML data into c. Keys missing from data keep their values.
func (c *Config) Decode(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, "failed to parse configuration")
	}
	for name, p := range c.Loans.Policies {
		if upper := strings.ToUpper(name); upper != name {
			delete(c.Loans.Policies, name)
			c.Loans.Policies[upper] = p
		}
	}
	return nil
}

// ApplyEnv overrides c with BIBLIODIGIT_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("BIBLIODIGIT_ADDR", &c.Server.Addr)
	str("BIBLIODIGIT_LOG_LEVEL", &c.Log.Level)
	str("BIBLIODIGIT_LOG_FORMAT", &c.Log.Format)
	str("BIBLIODIGIT_STORE", &c.Store.Driver)
	str("BIBLIODIGIT_SQLITE_PATH", &c.Store.SQLite.Path)
	str("BIBLIODIGIT_DYNAMODB_REGION", &c.Store.DynamoDB.Region)
	str("BIBLIODIGIT_DYNAMODB_ENDPOINT", &c.Store.DynamoDB.Endpoint)
	str("BIBLIODIGIT_ADMIN_NAME", &c.Bootstrap.Admin.Name)
	str("BIBLIODIGIT_ADMIN_EMAIL", &c.Bootstrap.Admin.Email)
	str("BIBLIODIGIT_ADMIN_PASSWORD", &c.Bootstrap.Admin.Password)

	if v, ok := lookup("BIBLIODIGIT_DYNAMODB_TABLE_PREFIX"); ok && v != "" {
		c.Store.DynamoDB.RecordTable = v + "records"
		c.Store.DynamoDB.RelationshipTable = v + "relationships"
		c.Store.DynamoDB.UniqueTable = v + "unique_constraints"
	}
	if v, ok := lookup("BIBLIODIGIT_TOKEN_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(err, "invalid BIBLIODIGIT_TOKEN_TTL")
		}
		c.Auth.TokenTTL = d
	}
	if v, ok := lookup("BIBLIODIGIT_DYNAMODB_CREATE_TABLES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "invalid BIBLIODIGIT_DYNAMODB_CREATE_TABLES")
		}
		c.Store.DynamoDB.CreateTables = b
	}
	return nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text", "console":
	default:
		return errors.Errorf("log.format %q is not one of json, text, console", c.Log.Format)
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLite.Path == "" {
			return errors.New("store.sqlite.path is required")
		}
	case DriverDynamoDB:
		d := c.Store.DynamoDB
		if d.RecordTable == "" || d.RelationshipTable == "" || d.UniqueTable == "" {
			return errors.New("store.dynamodb table names are required")
		}
	default:
		return errors.Errorf("store.driver %q is not one of sqlite, dynamodb", c.Store.Driver)
	}

	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return errors.Errorf("auth.bcrypt_cost %d is outside 4..31", c.Auth.BcryptCost)
	}

	if c.Loans.FinePerDayCents < 0 {
		return errors.New("loans.fine_per_day_cents must not be negative")
	}
	for name, p := range c.Loans.Policies {
		if p.MaxBooks < 1 || p.MaxDays < 1 {
			return errors.Errorf("loans.policies.%s needs positive max_books and max_days", name)
		}
	}

	if a := c.Bootstrap.Admin; a.Email != "" && len(a.Password) < 6 {
		return errors.New("bootstrap.admin.password must have at least 6 characters")
	}
	return nil
}
