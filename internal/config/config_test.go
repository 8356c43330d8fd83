package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	t.Setenv("SSH_PASSWORD", "secret")
	t.Setenv("LOG_FILE", filepath.Join("var", "log", "op.log"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8888", cfg.Port)
	assert.Equal(t, "google/gemini-3-flash-preview", cfg.Upstream.Model)
	assert.Equal(t, 25, cfg.Upstream.MaxSteps)
	assert.Equal(t, 60*time.Second, cfg.Exec.CommandTimeout)
	assert.Equal(t, "127.0.0.1:2222", cfg.SSH.Addr())
	assert.Equal(t, filepath.Join("var", "log", "audit.log"), cfg.Log.AuditPath, "audit log sits next to the log file")
	assert.Equal(t, HostKeyInsecure, cfg.SSH.HostKeyPolicy)
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("SSH_PASSWORD", "secret")

	_, err := Load()
	assert.ErrorContains(t, err, "OPENROUTER_API_KEY")
}

func TestValidateTransportRules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "ssh without credentials",
			mutate:  func(c *Config) { c.SSH.Password = "" },
			wantErr: "SSH_PASSWORD or SSH_KEY_PATH",
		},
		{
			name:    "known hosts without file",
			mutate:  func(c *Config) { c.SSH.HostKeyPolicy = HostKeyKnownHosts },
			wantErr: "SSH_KNOWN_HOSTS",
		},
		{
			name: "fingerprint without prefix",
			mutate: func(c *Config) {
				c.SSH.HostKeyPolicy = HostKeyFingerprint
				c.SSH.Fingerprint = "abc"
			},
			wantErr: "SHA256",
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Exec.Transport = "telnet" },
			wantErr: "EXEC_TRANSPORT",
		},
		{
			name:    "zero steps",
			mutate:  func(c *Config) { c.Upstream.MaxSteps = 0 },
			wantErr: "MAX_AGENT_STEPS",
		},
		{
			name: "docker transport needs no ssh credentials",
			mutate: func(c *Config) {
				c.Exec.Transport = TransportDocker
				c.SSH.Password = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestGetEnvDurationAcceptsSeconds(t *testing.T) {
	t.Setenv("TEST_DURATION", "90")
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", time.Second))
	t.Setenv("TEST_DURATION", "2m")
	assert.Equal(t, 2*time.Minute, getEnvDuration("TEST_DURATION", time.Second))
	t.Setenv("TEST_DURATION", "soon")
	assert.Equal(t, time.Second, getEnvDuration("TEST_DURATION", time.Second), "fallback")
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", " https://a.example , ,https://b.example")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, getEnvList("TEST_LIST", nil))
}

func validConfig() *Config {
	return &Config{
		Port:        "8888",
		CORSOrigins: []string{"*"},
		Upstream:    UpstreamConfig{APIKey: "k", Model: "m", MaxSteps: 25},
		Exec:        ExecConfig{Transport: TransportSSH, CommandTimeout: time.Minute, MaxOutputBytes: 1024},
		SSH:         SSHConfig{Host: "127.0.0.1", Port: 2222, Username: "root", Password: "p", HostKeyPolicy: HostKeyInsecure},
		Sandbox:     SandboxConfig{ContainerName: "c"},
		Log:         LogConfig{AuditPath: "audit.log"},
		RateLimit:   RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute},
		DBPath:      "db",

		MaxRequestBodyBytes: 1024,
		ConversationLog: ConversationLogConfig{
			Dir:        "d",
			GlobalPath: "g",
			QueueSize:  1,
		},
	}
}
