// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Execution transports.
const (
	TransportSSH    = "ssh"
	TransportDocker = "docker"
)

// SSH host key policies.
const (
	HostKeyInsecure    = "insecure"
	HostKeyKnownHosts  = "known_hosts"
	HostKeyFingerprint = "fingerprint"
)

// Config holds all application configuration.
type Config struct {
	Host        string
	Port        string
	DebugMode   bool
	CORSOrigins []string

	Upstream  UpstreamConfig
	Exec      ExecConfig
	SSH       SSHConfig
	Sandbox   SandboxConfig
	Log       LogConfig
	RateLimit RateLimitConfig

	DBPath              string
	AuditRetention      time.Duration
	MaxRequestBodyBytes int64
	GRPCHealthAddr      string

	ConversationLog ConversationLogConfig
}

// UpstreamConfig configures the OpenAI-compatible completion endpoint.
type UpstreamConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	MaxSteps int
}

// ExecConfig configures command execution on the sandbox.
type ExecConfig struct {
	Transport      string
	CommandTimeout time.Duration
	MaxOutputBytes int
}

// SSHConfig configures the SSH transport.
type SSHConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	KeyPath       string
	HostKeyPolicy string
	KnownHosts    string
	Fingerprint   string
	DialTimeout   time.Duration
}

// Addr returns host:port.
func (c SSHConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SandboxConfig describes the sandbox container.
type SandboxConfig struct {
	Manage              bool
	Image               string
	ContainerName       string
	Runtime             string // Docker runtime: "" = default (runc), "runsc" = gVisor
	HostSharedPath      string
	ContainerSharedPath string
}

// LogConfig controls process and audit logging.
type LogConfig struct {
	Level     string
	File      string
	AuditPath string
}

// RateLimitConfig controls per-client request throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	logFile := getEnv("LOG_FILE", "logs/interactive_ai.log")
	auditPath := getEnv("AUDIT_LOG_PATH", "")
	if auditPath == "" {
		auditPath = filepath.Join(filepath.Dir(logFile), "audit.log")
	}

	cfg := &Config{
		Host:        getEnv("SERVER_HOST", "0.0.0.0"),
		Port:        getEnv("PORT", "8888"),
		DebugMode:   getEnvBool("DEBUG_MODE", false),
		CORSOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		Upstream: UpstreamConfig{
			APIKey:   getEnv("OPENROUTER_API_KEY", ""),
			BaseURL:  getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			Model:    getEnv("OPENROUTER_MODEL", "google/gemini-3-flash-preview"),
			MaxSteps: getEnvInt("MAX_AGENT_STEPS", 25),
		},
		Exec: ExecConfig{
			Transport:      strings.ToLower(getEnv("EXEC_TRANSPORT", TransportSSH)),
			CommandTimeout: getEnvDuration("COMMAND_TIMEOUT", 60*time.Second),
			MaxOutputBytes: getEnvInt("MAX_COMMAND_OUTPUT_BYTES", 1<<20),
		},
		SSH: SSHConfig{
			Host:          getEnv("SSH_HOST", "127.0.0.1"),
			Port:          getEnvInt("SSH_PORT", 2222),
			Username:      getEnv("SSH_USERNAME", "root"),
			Password:      getEnv("SSH_PASSWORD", ""),
			KeyPath:       getEnv("SSH_KEY_PATH", ""),
			HostKeyPolicy: strings.ToLower(getEnv("SSH_HOST_KEY_POLICY", HostKeyInsecure)),
			KnownHosts:    getEnv("SSH_KNOWN_HOSTS", ""),
			Fingerprint:   getEnv("SSH_HOST_KEY_FINGERPRINT", ""),
			DialTimeout:   getEnvDuration("SSH_DIAL_TIMEOUT", 10*time.Second),
		},
		Sandbox: SandboxConfig{
			Manage:              getEnvBool("SANDBOX_MANAGE", false),
			Image:               getEnv("SANDBOX_IMAGE", "interactive-ai-env"),
			ContainerName:       getEnv("SANDBOX_CONTAINER", "interactive-ai-container"),
			Runtime:             getEnv("CONTAINER_RUNTIME", ""),
			HostSharedPath:      getEnv("HOST_SHARED_DATA_PATH", "./shared_data"),
			ContainerSharedPath: getEnv("CONTAINER_SHARED_DATA_PATH", "/root/data"),
		},
		Log: LogConfig{
			Level:     getEnv("LOG_LEVEL", "INFO"),
			File:      logFile,
			AuditPath: auditPath,
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		DBPath:              getEnv("DB_PATH", "./data/operator.db"),
		AuditRetention:      getEnvDuration("AUDIT_RETENTION", 30*24*time.Hour),
		MaxRequestBodyBytes: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		GRPCHealthAddr:      getEnv("GRPC_HEALTH_ADDR", ""),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
//
//nolint:gocyclo // Flat list of independent checks.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Upstream.APIKey == "" {
		return fmt.Errorf("OPENROUTER_API_KEY is required")
	}
	if c.Upstream.Model == "" {
		return fmt.Errorf("OPENROUTER_MODEL cannot be empty")
	}
	if c.Upstream.MaxSteps <= 0 {
		return fmt.Errorf("MAX_AGENT_STEPS must be > 0")
	}
	if c.Exec.CommandTimeout <= 0 {
		return fmt.Errorf("COMMAND_TIMEOUT must be > 0")
	}
	if c.Exec.MaxOutputBytes <= 0 {
		return fmt.Errorf("MAX_COMMAND_OUTPUT_BYTES must be > 0")
	}

	switch c.Exec.Transport {
	case TransportSSH:
		if c.SSH.Password == "" && c.SSH.KeyPath == "" {
			return fmt.Errorf("SSH_PASSWORD or SSH_KEY_PATH is required for ssh transport")
		}
		switch c.SSH.HostKeyPolicy {
		case HostKeyInsecure:
		case HostKeyKnownHosts:
			if c.SSH.KnownHosts == "" {
				return fmt.Errorf("SSH_KNOWN_HOSTS is required for known_hosts policy")
			}
		case HostKeyFingerprint:
			if !strings.HasPrefix(c.SSH.Fingerprint, "SHA256:") {
				return fmt.Errorf("SSH_HOST_KEY_FINGERPRINT must be a SHA256 fingerprint")
			}
		default:
			return fmt.Errorf("unknown SSH_HOST_KEY_POLICY %q", c.SSH.HostKeyPolicy)
		}
	case TransportDocker:
		if c.Sandbox.ContainerName == "" {
			return fmt.Errorf("SANDBOX_CONTAINER is required for docker transport")
		}
	default:
		return fmt.Errorf("unknown EXEC_TRANSPORT %q", c.Exec.Transport)
	}

	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Log.AuditPath == "" {
		return fmt.Errorf("AUDIT_LOG_PATH cannot be empty")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
