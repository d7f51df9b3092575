// Package config reads the replica's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mikekulinski/zkstore/pkg/certrules"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
)

const (
	ModeMemory = "memory"
	ModeBadger = "badger"
	ModeRaft   = "raft"
	ModeGRPC   = "grpc"
)

type Config struct {
	Replica     ReplicaConfig     `toml:"replica"`
	Log         LogConfig         `toml:"log"`
	Persistence PersistenceConfig `toml:"persistence"`
	Raft        RaftConfig        `toml:"raft"`
	GRPC        GRPCConfig        `toml:"grpc"`
	Election    ElectionConfig    `toml:"election"`
	Snapshot    SnapshotConfig    `toml:"snapshot"`
	TLS         TLSConfig         `toml:"tls"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

type ReplicaConfig struct {
	// ID defaults to a random id.
	ID   string `toml:"id"`
	Mode string `toml:"mode" validate:"oneof=memory badger raft grpc"`
	// ClientListen is where the tree is served to clients.
	ClientListen string `toml:"client_listen" validate:"required,hostname_port"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

type PersistenceConfig struct {
	QueueSize              int    `toml:"queue_size" validate:"gte=1"`
	GroupDataSizeThreshold int    `toml:"group_data_size_threshold" validate:"gte=1"`
	IgnoreErrorsDuringLoad bool   `toml:"ignore_errors_during_load"`
	DataDir                string `toml:"data_dir"`
	GCIntervalMs           int    `toml:"gc_interval_ms" validate:"gte=0"`
}

func (c PersistenceConfig) GCInterval() time.Duration {
	return time.Duration(c.GCIntervalMs) * time.Millisecond
}

type RaftPeer struct {
	ID      string `toml:"id" validate:"required"`
	Address string `toml:"address" validate:"required,hostname_port"`
}

type RaftConfig struct {
	Bind string `toml:"bind" validate:"omitempty,hostname_port"`
	// Bootstrap starts a new cluster of Peers. Only one replica of a new
	// cluster sets it.
	Bootstrap      bool       `toml:"bootstrap"`
	Peers          []RaftPeer `toml:"peers" validate:"dive"`
	ApplyTimeoutMs int        `toml:"apply_timeout_ms" validate:"gte=0"`
	SnapshotRetain int        `toml:"snapshot_retain" validate:"gte=1"`
}

func (c RaftConfig) ApplyTimeout() time.Duration {
	return time.Duration(c.ApplyTimeoutMs) * time.Millisecond
}

type GRPCConfig struct {
	Listen string `toml:"listen" validate:"omitempty,hostname_port"`
	// Secondaries receive every replication of the primary.
	Secondaries []string `toml:"secondaries" validate:"dive,hostname_port"`
	// Source is the replica a secondary loads the tree from.
	Source        string `toml:"source" validate:"omitempty,hostname_port"`
	CallTimeoutMs int    `toml:"call_timeout_ms" validate:"gte=0"`
}

func (c GRPCConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMs) * time.Millisecond
}

// ElectionConfig is used when Endpoints is set. Without it a grpc or memory
// replica is primary from the start.
type ElectionConfig struct {
	Endpoints     []string `toml:"endpoints"`
	Prefix        string   `toml:"prefix"`
	TTLSeconds    int      `toml:"ttl_seconds" validate:"gte=0"`
	DialTimeoutMs int      `toml:"dial_timeout_ms" validate:"gte=0"`
	RetryMs       int      `toml:"retry_ms" validate:"gte=0"`
}

func (c ElectionConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMs) * time.Millisecond
}

func (c ElectionConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryMs) * time.Millisecond
}

type SnapshotConfig struct {
	// Dir enables periodic snapshots of memory and grpc replicas.
	Dir        string `toml:"dir"`
	IntervalMs int    `toml:"interval_ms" validate:"gte=0"`
	Keep       int    `toml:"keep" validate:"gte=1"`
}

func (c SnapshotConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

type TLSConfig struct {
	CertFile string             `toml:"cert_file"`
	KeyFile  string             `toml:"key_file"`
	CAFile   string             `toml:"ca_file"`
	Rules    certrules.Settings `toml:"rules"`
}

func (c TLSConfig) Enabled() bool {
	return c.CertFile != ""
}

type MetricsConfig struct {
	Listen string `toml:"listen" validate:"omitempty,hostname_port"`
}

// Default returns the configuration of a single in-memory replica.
func Default() *Config {
	return &Config{
		Replica: ReplicaConfig{
			Mode:         ModeMemory,
			ClientListen: "127.0.0.1:2181",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Persistence: PersistenceConfig{
			QueueSize:              16,
			GroupDataSizeThreshold: 1 << 20,
			GCIntervalMs:           5 * 60 * 1000,
		},
		Raft: RaftConfig{
			ApplyTimeoutMs: 10000,
			SnapshotRetain: 2,
		},
		GRPC: GRPCConfig{
			CallTimeoutMs: 10000,
		},
		Election: ElectionConfig{
			Prefix:        "/zkstore/election",
			TTLSeconds:    30,
			DialTimeoutMs: 5000,
			RetryMs:       1000,
		},
		Snapshot: SnapshotConfig{
			IntervalMs: 60000,
			Keep:       3,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9181",
		},
	}
}

// WriteDefault writes the default configuration as TOML.
func WriteDefault(w io.Writer) error {
	data, err := toml.Marshal(Default())
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Load reads the file at path over the defaults and validates the result.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	switch c.Replica.Mode {
	case ModeBadger:
		if c.Persistence.DataDir == "" {
			errs = append(errs, errors.New("badger mode needs persistence.data_dir"))
		}
	case ModeRaft:
		if c.Persistence.DataDir == "" {
			errs = append(errs, errors.New("raft mode needs persistence.data_dir"))
		}
		if c.Raft.Bind == "" {
			errs = append(errs, errors.New("raft mode needs raft.bind"))
		}
		if c.Raft.Bootstrap && len(c.Raft.Peers) == 0 {
			errs = append(errs, errors.New("raft.bootstrap needs raft.peers"))
		}
	case ModeGRPC:
		if c.GRPC.Listen == "" {
			errs = append(errs, errors.New("grpc mode needs grpc.listen"))
		}
	}
	if c.TLS.Enabled() && (c.TLS.KeyFile == "" || c.TLS.CAFile == "") {
		errs = append(errs, errors.New("tls needs cert_file, key_file and ca_file"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
