// Package config loads and validates the YAML configuration for a ringmr
// node: a struct tree unmarshaled with gopkg.in/yaml.v3, environment
// overrides for the deployment-specific fields, and a single aggregated
// validation pass.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeConfig identifies and binds this process.
type NodeConfig struct {
	Host       string `yaml:"host"`
	Bind       string `yaml:"bind"`
	DaemonPort int    `yaml:"daemonPort"`
}

// DHTConfig carries the Chord tuning knobs.
type DHTConfig struct {
	FingerTableSize        int           `yaml:"fingerTableSize"`        // M, default 80
	ReplicationSize        int           `yaml:"replicationSize"`        // R, default 5
	StabilizationInterval  time.Duration `yaml:"stabilizationInterval"`  // DHT_STABILIZATION_INTERVAL
	RecheckInterval        time.Duration `yaml:"recheckInterval"`        // DHT_RECHECK_INTERVAL
	Seed                   string        `yaml:"seed"`                   // optional seed address to join
}

// NameDirConfig carries NameDir election/backup tuning.
type NameDirConfig struct {
	BroadcastPort   int           `yaml:"broadcastPort"`
	ContestInterval time.Duration `yaml:"contestInterval"` // NS_CONTEST_INTERVAL
	BackupInterval  time.Duration `yaml:"backupInterval"`  // NS_BACKUP_INTERVAL
	GossipPeers     []string      `yaml:"gossipPeers"`     // memberlist seeds
}

// MasterConfig carries Master/Follower/RequestHandler tuning.
type MasterConfig struct {
	BackupInterval  time.Duration `yaml:"backupInterval"`  // MASTER_BACKUP_INTERVAL
	ItemsPerChunk   int           `yaml:"itemsPerChunk"`   // ITEMS_PER_CHUNK
	RequestTimeout  time.Duration `yaml:"requestTimeout"`  // REQUEST_TIMEOUT
	RequestRetries  int           `yaml:"requestRetries"`  // REQUEST_RETRIES
}

// FileLoggerConfig is the lumberjack rotation config for file-mode logging.
type FileLoggerConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"maxSize"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAge     int    `yaml:"maxAge"`
	Compress   bool   `yaml:"compress"`
}

// LoggerConfig selects the logging backend's behavior.
type LoggerConfig struct {
	Active   bool             `yaml:"active"`
	Level    string           `yaml:"level"`
	Encoding string           `yaml:"encoding"`
	Mode     string           `yaml:"mode"`
	File     FileLoggerConfig `yaml:"file"`
}

// TracingConfig enables the otel span wrapping find_successor hops.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" is the only exporter wired
}

// Config is the full node configuration tree.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	DHT     DHTConfig     `yaml:"dht"`
	NameDir NameDirConfig `yaml:"namedir"`
	Master  MasterConfig  `yaml:"master"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoadConfig reads and parses the YAML file at path. It performs only
// syntactic parsing; call Validate afterward.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyEnvOverrides overrides deployment-specific fields from the
// environment: NODE_HOST, NODE_BIND, DAEMON_PORT, DHT_SEED,
// DHT_FINGER_TABLE_SIZE, DHT_REPLICATION_SIZE, DHT_STABILIZATION_INTERVAL,
// NS_BROADCAST_PORT, NS_GOSSIP_PEERS, LOGGER_LEVEL and LOGGER_MODE. No
// MASTER_* setting and no other interval is read from the environment.
func (cfg *Config) ApplyEnvOverrides() {
	if v := os.Getenv("NODE_HOST"); v != "" {
		cfg.Node.Host = v
	}
	if v := os.Getenv("NODE_BIND"); v != "" {
		cfg.Node.Bind = v
	}
	if v := os.Getenv("DAEMON_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Node.DaemonPort = p
		}
	}
	if v := os.Getenv("DHT_SEED"); v != "" {
		cfg.DHT.Seed = v
	}
	if v := os.Getenv("DHT_FINGER_TABLE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DHT.FingerTableSize = n
		}
	}
	if v := os.Getenv("DHT_REPLICATION_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DHT.ReplicationSize = n
		}
	}
	if v := os.Getenv("DHT_STABILIZATION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DHT.StabilizationInterval = d
		}
	}
	if v := os.Getenv("NS_BROADCAST_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.NameDir.BroadcastPort = p
		}
	}
	if v := os.Getenv("NS_GOSSIP_PEERS"); v != "" {
		cfg.NameDir.GossipPeers = strings.Split(v, ",")
	}
	if v := os.Getenv("LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("LOGGER_MODE"); v != "" {
		cfg.Logger.Mode = v
	}
}

// Validate performs structural validation and returns one aggregated
// error naming every problem found.
func (cfg *Config) Validate() error {
	var errs []string

	if cfg.Node.Host == "" {
		errs = append(errs, "node.host is required")
	}
	if cfg.Node.DaemonPort <= 0 || cfg.Node.DaemonPort > 65535 {
		errs = append(errs, fmt.Sprintf("node.daemonPort must be in (0,65535], got %d", cfg.Node.DaemonPort))
	}

	if cfg.DHT.FingerTableSize <= 0 {
		errs = append(errs, "dht.fingerTableSize must be > 0")
	}
	if cfg.DHT.ReplicationSize <= 0 {
		errs = append(errs, "dht.replicationSize must be > 0")
	}
	if cfg.DHT.StabilizationInterval <= 0 {
		errs = append(errs, "dht.stabilizationInterval must be > 0")
	}
	if cfg.DHT.RecheckInterval <= 0 {
		errs = append(errs, "dht.recheckInterval must be > 0")
	}

	if cfg.NameDir.ContestInterval <= 0 {
		errs = append(errs, "namedir.contestInterval must be > 0")
	}
	if cfg.NameDir.BackupInterval <= 0 {
		errs = append(errs, "namedir.backupInterval must be > 0")
	}

	if cfg.Master.BackupInterval <= 0 {
		errs = append(errs, "master.backupInterval must be > 0")
	}
	if cfg.Master.ItemsPerChunk <= 0 {
		errs = append(errs, "master.itemsPerChunk must be > 0")
	}
	if cfg.Master.RequestTimeout <= 0 {
		errs = append(errs, "master.requestTimeout must be > 0")
	}
	if cfg.Master.RequestRetries < 0 {
		errs = append(errs, "master.requestRetries must be >= 0")
	}

	switch cfg.Logger.Level {
	case "debug", "info", "warn", "error", "":
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.level: %s", cfg.Logger.Level))
	}
	switch cfg.Logger.Encoding {
	case "console", "json", "":
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.encoding: %s", cfg.Logger.Encoding))
	}
	if cfg.Logger.Mode == "file" && cfg.Logger.File.Path == "" {
		errs = append(errs, "logger.file.path is required when logger.mode=file")
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Exporter == "" {
		errs = append(errs, "tracing.exporter is required when tracing.enabled=true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Default returns a Config populated with the documented defaults.
func Default(host string, port int) *Config {
	return &Config{
		Node: NodeConfig{Host: host, Bind: "0.0.0.0", DaemonPort: port},
		DHT: DHTConfig{
			FingerTableSize:       80,
			ReplicationSize:       5,
			StabilizationInterval: 500 * time.Millisecond,
			RecheckInterval:       2 * time.Second,
		},
		NameDir: NameDirConfig{
			BroadcastPort:   port + 1,
			ContestInterval: 1 * time.Second,
			BackupInterval:  5 * time.Second,
		},
		Master: MasterConfig{
			BackupInterval: 5 * time.Second,
			ItemsPerChunk:  16,
			RequestTimeout: 500 * time.Millisecond,
			RequestRetries: 3,
		},
		Logger: LoggerConfig{Active: true, Level: "info", Encoding: "console", Mode: "stdout"},
	}
}
