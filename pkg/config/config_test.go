package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, fs afero.Fs, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, "/etc/zkstore.toml", []byte(content), 0o644))
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, `
[replica]
id = "r1"
mode = "raft"
client_listen = ":2181"

[persistence]
data_dir = "/var/lib/zkstore"
queue_size = 32

[raft]
bind = "10.0.0.1:7000"
bootstrap = true
apply_timeout_ms = 2500

[[raft.peers]]
id = "r1"
address = "10.0.0.1:7000"

[[raft.peers]]
id = "r2"
address = "10.0.0.2:7000"

[tls.rules]
allowed_subject_names = ["CN=replica"]
allowed_signing_thumbprints = ["AB;CD"]
max_validity_days = 30
`)

	cfg, err := Load(fs, "/etc/zkstore.toml")
	require.NoError(t, err)
	assert.Equal(t, "r1", cfg.Replica.ID)
	assert.Equal(t, ModeRaft, cfg.Replica.Mode)
	assert.Equal(t, 32, cfg.Persistence.QueueSize)
	// Unset values keep their defaults.
	assert.Equal(t, 1<<20, cfg.Persistence.GroupDataSizeThreshold)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Len(t, cfg.Raft.Peers, 2)
	assert.Equal(t, 2500*time.Millisecond, cfg.Raft.ApplyTimeout())
	assert.Equal(t, 10*time.Second, cfg.GRPC.CallTimeout())
	assert.Equal(t, []string{"CN=replica"}, cfg.TLS.Rules.AllowedSubjectNames)
	assert.Equal(t, float64(30), cfg.TLS.Rules.MaxValidityDays)
	assert.False(t, cfg.TLS.Enabled())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "not toml",
			content: `[replica`,
		},
		{
			name: "unknown mode",
			content: `[replica]
mode = "paxos"`,
		},
		{
			name: "bad listen address",
			content: `[replica]
client_listen = "nowhere"`,
		},
		{
			name: "queue size",
			content: `[persistence]
queue_size = 0`,
		},
		{
			name: "log level",
			content: `[log]
level = "loud"`,
		},
		{
			name: "badger without a data dir",
			content: `[replica]
mode = "badger"`,
		},
		{
			name: "raft without bind",
			content: `[replica]
mode = "raft"
[persistence]
data_dir = "/data"`,
		},
		{
			name: "bootstrap without peers",
			content: `[replica]
mode = "raft"
[persistence]
data_dir = "/data"
[raft]
bind = ":7000"
bootstrap = true`,
		},
		{
			name: "grpc without listen",
			content: `[replica]
mode = "grpc"`,
		},
		{
			name: "bad secondary",
			content: `[grpc]
secondaries = ["nope"]`,
		},
		{
			name: "tls without key",
			content: `[tls]
cert_file = "/cert.pem"`,
		},
		{
			name: "negative validity",
			content: `[tls.rules]
max_validity_days = -1`,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			writeFile(t, fs, test.content)
			_, err := Load(fs, "/etc/zkstore.toml")
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(afero.NewMemMapFs(), "/missing.toml")
	assert.Error(t, err)
}

func TestWriteDefault(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WriteDefault(buf))
	assert.Contains(t, buf.String(), "client_listen")

	fs := afero.NewMemMapFs()
	writeFile(t, fs, buf.String())
	cfg, err := Load(fs, "/etc/zkstore.toml")
	require.NoError(t, err)
	defaults := Default()
	assert.Equal(t, defaults.Replica, cfg.Replica)
	assert.Equal(t, defaults.Persistence, cfg.Persistence)
	assert.Equal(t, defaults.Snapshot, cfg.Snapshot)
	assert.Equal(t, defaults.Election.Prefix, cfg.Election.Prefix)
}
