package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for inkwell.
type Config struct {
	DeviceID     string             `toml:"device_id"`
	BaseDir      string             `toml:"base_dir"`
	LogDir       string             `toml:"log_dir"`
	Storage      StorageConfig      `toml:"storage"`
	Queue        QueueConfig        `toml:"queue"`
	Snapshots    SnapshotConfig     `toml:"snapshots"`
	Recovery     RecoveryConfig     `toml:"recovery"`
	Remote       RemoteConfig       `toml:"remote"`
	Encryption   EncryptionConfig   `toml:"encryption"`
	Connectivity ConnectivityConfig `toml:"connectivity"`
	Metrics      MetricsConfig      `toml:"metrics"`
}

// StorageConfig selects the local key/value backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StorageConfig struct {
	Type    string `toml:"type"`               // "memory", "sqlite" or "badger"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite and type=badger

	// QuotaBytes caps the store. For sqlite it becomes max_page_count; for
	// memory it is enforced on every write. Zero uses the backend default.
	QuotaBytes int64 `toml:"quota_bytes"`

	WarningThreshold  float64  `toml:"warning_threshold"`
	CriticalThreshold float64  `toml:"critical_threshold"`
	SizeEncoding      string   `toml:"size_encoding"` // "utf16" or "utf8"
	Disposable        []string `toml:"disposable"`
}

// QueueConfig tunes the offline write queue.
type QueueConfig struct {
	MaxRetries    int    `toml:"max_retries"`
	BaseDelay     string `toml:"base_delay"`
	MaxMultiplier int    `toml:"max_multiplier"`
	ItemDelay     string `toml:"item_delay"`
	SettleDelay   string `toml:"settle_delay"`
}

// SnapshotConfig tunes snapshot retention.
type SnapshotConfig struct {
	MaxAutomatic int    `toml:"max_automatic"`
	KeepLatest   int    `toml:"keep_latest"`
	AutoInterval string `toml:"auto_interval"`
	Checksum     string `toml:"checksum"` // "rolling" or "xxhash"
}

// RecoveryConfig tunes the recovery tiers.
type RecoveryConfig struct {
	ShadowCopyMaxAge string `toml:"shadow_copy_max_age"`
}

// RemoteConfig represents configuration for the remote sync backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RemoteConfig struct {
	Type string `toml:"type"` // "none", "memory", "filesystem" or "s3"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used to seal remote bundles.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age", "test" or "none"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// ConnectivityConfig configures the reachability probe that drives the
// monitor's online state. An empty ProbeAddress disables probing.
type ConnectivityConfig struct {
	ProbeAddress  string `toml:"probe_address"`
	ProbeInterval string `toml:"probe_interval"`
	ProbeTimeout  string `toml:"probe_timeout"`
}

// MetricsConfig controls Prometheus output. With TextfilePath set, metrics
// are written there when a command finishes.
type MetricsConfig struct {
	TextfilePath string `toml:"textfile_path,omitempty"`
}

// NewConfig creates a new Config with the provided values, default paths and
// default tuning.
func NewConfig(deviceID, baseDir string) *Config {
	cfg := &Config{
		DeviceID: deviceID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Storage: StorageConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Remote: RemoteConfig{Type: "none"},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "inkwell.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "inkwell.key"),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every zero tuning value. Paths and backend types are
// left alone.
func (c *Config) ApplyDefaults() {
	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	if c.Storage.WarningThreshold == 0 {
		c.Storage.WarningThreshold = 0.80
	}
	if c.Storage.CriticalThreshold == 0 {
		c.Storage.CriticalThreshold = 0.95
	}
	if c.Storage.SizeEncoding == "" {
		c.Storage.SizeEncoding = "utf16"
	}
	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Queue.BaseDelay == "" {
		c.Queue.BaseDelay = "5s"
	}
	if c.Queue.MaxMultiplier == 0 {
		c.Queue.MaxMultiplier = 5
	}
	if c.Queue.ItemDelay == "" {
		c.Queue.ItemDelay = "100ms"
	}
	if c.Queue.SettleDelay == "" {
		c.Queue.SettleDelay = "1s"
	}
	if c.Snapshots.MaxAutomatic == 0 {
		c.Snapshots.MaxAutomatic = 15
	}
	if c.Snapshots.KeepLatest == 0 {
		c.Snapshots.KeepLatest = 5
	}
	if c.Snapshots.AutoInterval == "" {
		c.Snapshots.AutoInterval = "10m"
	}
	if c.Snapshots.Checksum == "" {
		c.Snapshots.Checksum = "rolling"
	}
	if c.Recovery.ShadowCopyMaxAge == "" {
		c.Recovery.ShadowCopyMaxAge = "168h"
	}
	if c.Remote.Type == "" {
		c.Remote.Type = "none"
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = "age"
	}
	if c.Connectivity.ProbeInterval == "" {
		c.Connectivity.ProbeInterval = "30s"
	}
	if c.Connectivity.ProbeTimeout == "" {
		c.Connectivity.ProbeTimeout = "3s"
	}
}

// ParseDuration parses a duration field, naming it in the error.
func ParseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", field, value)
	}
	return d, nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path and fills in
// defaults for anything the file leaves out.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
