package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Paths         PathsConfig         `yaml:"paths"`
	WriteBack     WriteBackConfig     `yaml:"writeback"`
	Probe         ProbeConfig         `yaml:"probe"`
	Rclone        RcloneConfig        `yaml:"rclone"`
	Remote        RemoteConfig        `yaml:"remote"`
	Reconciler    ReconcilerConfig    `yaml:"reconciler"`
	ConfigWatch   ConfigWatchConfig   `yaml:"config_watch"`
	Notify        NotifyConfig        `yaml:"notify"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	DryRun        bool                `yaml:"dry_run"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`

	// Upgraded lists the dotted keys back-filled from defaults during Load.
	Upgraded []string `yaml:"-"`
}

// PathsConfig names the three tiers. UnionFSFolder is where the overlay
// writes its _HIDDEN~ markers; CloudFolder is the read-only mount of the
// remote; RemoteFolder is the rclone remote matching UnionFSFolder.
type PathsConfig struct {
	UnionFSFolder string `yaml:"unionfs_folder"`
	CloudFolder   string `yaml:"cloud_folder"`
	RemoteFolder  string `yaml:"remote_folder"`
	LocalFolder   string `yaml:"local_folder"`
	LocalRemote   string `yaml:"local_remote"`
}

type WriteBackConfig struct {
	Enabled                 bool        `yaml:"enabled"`
	LocalFolderSizeGB       int         `yaml:"local_folder_size_gb"`
	CheckIntervalMinutes    int         `yaml:"check_interval_minutes"`
	CooldownIntervalMinutes int         `yaml:"cooldown_interval_minutes"`
	PruneSettleDelay        Duration    `yaml:"prune_settle_delay"`
	Prune                   []PruneRoot `yaml:"prune"`
}

type PruneRoot struct {
	Path     string `yaml:"path"`
	MinDepth int    `yaml:"min_depth"`
}

type ProbeConfig struct {
	DUBinary     string   `yaml:"du_binary"`
	LsofBinary   string   `yaml:"lsof_binary"`
	DUExcludes   []string `yaml:"du_excludes"`
	LsofExcludes []string `yaml:"lsof_excludes"`
}

type RcloneConfig struct {
	Binary           string   `yaml:"binary"`
	Transfers        int      `yaml:"transfers"`
	Checkers         int      `yaml:"checkers"`
	BWLimit          string   `yaml:"bwlimit"`
	Excludes         []string `yaml:"excludes"`
	RateLimitPattern string   `yaml:"rate_limit_pattern"`
}

type RemoteConfig struct {
	Backend string   `yaml:"backend"`
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

type ReconcilerConfig struct {
	WatchEnabled bool `yaml:"watch_enabled"`
}

type ConfigWatchConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Mode         string   `yaml:"mode"`
	PollInterval Duration `yaml:"poll_interval"`
}

type NotifyConfig struct {
	Timeout  Duration         `yaml:"timeout"`
	Pushover PushoverConfig   `yaml:"pushover"`
	NATS     NATSNotifyConfig `yaml:"nats"`
}

type PushoverConfig struct {
	AppToken  string `yaml:"app_token"`
	UserToken string `yaml:"user_token"`
	Endpoint  string `yaml:"endpoint"`
}

type NATSNotifyConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SubjectPrefix string `yaml:"subject_prefix"`
	NATSConfig    `yaml:",inline"`
}

type NATSConfig struct {
	URL             string    `yaml:"url"`
	CredentialsFile string    `yaml:"credentials_file"`
	NKeySeedFile    string    `yaml:"nkey_seed_file"`
	TLS             TLSConfig `yaml:"tls"`
	ConnectionName  string    `yaml:"connection_name"`
	MaxReconnects   int       `yaml:"max_reconnects"`
	ReconnectWait   Duration  `yaml:"reconnect_wait"`
}

type TLSConfig struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type LedgerConfig struct {
	Path string `yaml:"path"`
}

type APIConfig struct {
	Enabled       bool                `yaml:"enabled"`
	Listen        string              `yaml:"listen"`
	NATSResponder NATSResponderConfig `yaml:"nats_responder"`
}

// NATSResponderConfig answers status requests over NATS request-reply,
// on the connection configured under notify.nats.
type NATSResponderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Subject string `yaml:"subject"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
	Logging LoggingConfig `yaml:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Listen        string `yaml:"listen"`
	LivenessPath  string `yaml:"liveness_path"`
	ReadinessPath string `yaml:"readiness_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads the config file, back-fills any keys missing from it, writes
// the upgraded document back when something was added, and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	upgraded, added, err := Upgrade(data)
	if err != nil {
		return nil, fmt.Errorf("upgrading config file: %w", err)
	}
	if len(added) > 0 {
		if err := writeFile(path, upgraded); err != nil {
			return nil, fmt.Errorf("persisting upgraded config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(upgraded, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Upgraded = added

	if cfg.Ledger.Path != "" && !filepath.IsAbs(cfg.Ledger.Path) {
		cfg.Ledger.Path = filepath.Join(filepath.Dir(path), cfg.Ledger.Path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// WriteDefault persists DefaultConfig to path.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (c *Config) Validate() error {
	required := []struct {
		key, value string
	}{
		{"paths.unionfs_folder", c.Paths.UnionFSFolder},
		{"paths.cloud_folder", c.Paths.CloudFolder},
		{"paths.remote_folder", c.Paths.RemoteFolder},
		{"paths.local_folder", c.Paths.LocalFolder},
		{"paths.local_remote", c.Paths.LocalRemote},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.key)
		}
	}

	if c.WriteBack.LocalFolderSizeGB <= 0 {
		return fmt.Errorf("writeback.local_folder_size_gb must be > 0")
	}
	if c.WriteBack.CheckIntervalMinutes <= 0 {
		return fmt.Errorf("writeback.check_interval_minutes must be > 0")
	}
	if c.WriteBack.CooldownIntervalMinutes <= 0 {
		return fmt.Errorf("writeback.cooldown_interval_minutes must be > 0")
	}
	for i, root := range c.WriteBack.Prune {
		if root.Path == "" {
			return fmt.Errorf("writeback.prune[%d].path is required", i)
		}
		if root.MinDepth < 1 {
			return fmt.Errorf("writeback.prune[%d] (%s): min_depth must be >= 1", i, root.Path)
		}
	}

	if c.Rclone.Transfers <= 0 || c.Rclone.Checkers <= 0 {
		return fmt.Errorf("rclone.transfers and rclone.checkers must be > 0")
	}
	if c.Rclone.RateLimitPattern != "" {
		if _, err := regexp.Compile(c.Rclone.RateLimitPattern); err != nil {
			return fmt.Errorf("rclone.rate_limit_pattern: %w", err)
		}
	}

	switch c.Remote.Backend {
	case "rclone":
	case "s3":
		if c.Remote.S3.Bucket == "" {
			return fmt.Errorf("remote.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("remote.backend must be rclone or s3, got %q", c.Remote.Backend)
	}

	switch c.ConfigWatch.Mode {
	case "poll", "fsnotify":
	default:
		return fmt.Errorf("config_watch.mode must be poll or fsnotify, got %q", c.ConfigWatch.Mode)
	}

	if (c.Notify.NATS.Enabled || c.API.NATSResponder.Enabled) && c.Notify.NATS.URL == "" {
		return fmt.Errorf("notify.nats.url is required when nats is used")
	}
	if c.API.NATSResponder.Enabled && c.API.NATSResponder.Subject == "" {
		return fmt.Errorf("api.nats_responder.subject is required")
	}

	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required")
	}

	return nil
}

// CheckInterval is the configured write-back polling interval.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.WriteBack.CheckIntervalMinutes) * time.Minute
}

// CooldownInterval is the polling interval used after repeated rate limiting.
func (c *Config) CooldownInterval() time.Duration {
	return time.Duration(c.WriteBack.CooldownIntervalMinutes) * time.Minute
}

// Duration wraps time.Duration for YAML unmarshaling of strings like "5m", "24h".
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
