package config

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Terminal  TerminalConfig  `mapstructure:"terminal"`
	Local     LocalConfig     `mapstructure:"local"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Printer   PrinterConfig   `mapstructure:"printer"`
}

type TerminalConfig struct {
	ID         string `mapstructure:"id"`
	BranchID   string `mapstructure:"branch_id"`
	ProfileDir string `mapstructure:"profile_dir"`
}

type LocalConfig struct {
	DatabasePath   string `mapstructure:"database_path"`
	CredentialPath string `mapstructure:"credential_path"`
	MachineIDPath  string `mapstructure:"machine_id_path"`
}

type RemoteConfig struct {
	Driver      string       `mapstructure:"driver"` // rest | mysql | postgres
	BaseURL     string       `mapstructure:"base_url"`
	APIKey      string       `mapstructure:"api_key"`
	RealtimeURL string       `mapstructure:"realtime_url"`
	DSN         string       `mapstructure:"dsn"`
	Timeout     string       `mapstructure:"timeout"`
	Binlog      BinlogConfig `mapstructure:"binlog"`
}

func (r RemoteConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(r.Timeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

type BinlogConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	ServerID uint32 `mapstructure:"server_id"`
}

type SyncConfig struct {
	UploadInterval  string   `mapstructure:"upload_interval"`
	BatchSize       int      `mapstructure:"batch_size"`
	MaxAttempts     int      `mapstructure:"max_attempts"`
	BackoffBase     string   `mapstructure:"backoff_base"`
	BackoffMax      string   `mapstructure:"backoff_max"`
	DeadLetterAfter int      `mapstructure:"dead_letter_after"`
	DownloadTables  []string `mapstructure:"download_tables"`
	PullPageSize    int      `mapstructure:"pull_page_size"`
}

func (s SyncConfig) GetUploadInterval() time.Duration {
	return parseOr(s.UploadInterval, 5*time.Second)
}

func (s SyncConfig) GetBackoffBase() time.Duration {
	return parseOr(s.BackoffBase, 500*time.Millisecond)
}

func (s SyncConfig) GetBackoffMax() time.Duration {
	return parseOr(s.BackoffMax, 30*time.Second)
}

type SchedulerConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	SyncSpec              string `mapstructure:"sync_spec"`
	CleanupSpec           string `mapstructure:"cleanup_spec"`
	ReservationTTLMinutes int    `mapstructure:"reservation_ttl_minutes"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	AuthToken    string `mapstructure:"auth_token"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TelemetryConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type PrinterConfig struct {
	SpoolDir     string `mapstructure:"spool_dir"`
	BusinessName string `mapstructure:"business_name"`
}

func parseOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// LoadConfig reads the YAML file at path (optional), overlays POS_* environment
// variables and fills defaults. Local paths left empty are derived from the
// terminal profile directory.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("POS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.resolvePaths()
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("terminal.id", "terminal-1")
	v.SetDefault("terminal.branch_id", "")
	v.SetDefault("terminal.profile_dir", DefaultProfileDir())

	// Empty path defaults are resolved under the profile dir.
	v.SetDefault("local.database_path", "")
	v.SetDefault("local.credential_path", "")
	v.SetDefault("local.machine_id_path", "")

	v.SetDefault("remote.driver", "rest")
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.realtime_url", "")
	v.SetDefault("remote.dsn", "")
	v.SetDefault("remote.timeout", "15s")
	v.SetDefault("remote.binlog.enabled", false)
	v.SetDefault("remote.binlog.host", "")
	v.SetDefault("remote.binlog.port", 3306)
	v.SetDefault("remote.binlog.user", "")
	v.SetDefault("remote.binlog.password", "")
	v.SetDefault("remote.binlog.database", "")
	v.SetDefault("remote.binlog.server_id", 1001)

	v.SetDefault("sync.upload_interval", "5s")
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.backoff_base", "500ms")
	v.SetDefault("sync.backoff_max", "30s")
	v.SetDefault("sync.dead_letter_after", 10)
	v.SetDefault("sync.download_tables", []string{"products", "staff", "branches", "dining_tables", "clients"})
	v.SetDefault("sync.pull_page_size", 500)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.sync_spec", "@every 1m")
	v.SetDefault("scheduler.cleanup_spec", "@every 10m")
	v.SetDefault("scheduler.reservation_ttl_minutes", 60)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", false)

	v.SetDefault("printer.spool_dir", "")
	v.SetDefault("printer.business_name", "Panaderia")
}

func (c *Config) resolvePaths() {
	dir := c.Terminal.ProfileDir
	if c.Local.DatabasePath == "" {
		c.Local.DatabasePath = filepath.Join(dir, "pos-local.db")
	}
	if c.Local.CredentialPath == "" {
		c.Local.CredentialPath = filepath.Join(dir, "credentials.enc")
	}
	if c.Local.MachineIDPath == "" {
		c.Local.MachineIDPath = filepath.Join(dir, "machine-id")
	}
	if c.Printer.SpoolDir == "" {
		c.Printer.SpoolDir = filepath.Join(dir, "spool")
	}
}
