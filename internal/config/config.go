package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Journal     JournalConfig     `yaml:"journal"`
	Capture     CaptureConfig     `yaml:"capture"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Session     SessionConfig     `yaml:"session"`
	Polish      PolishConfig      `yaml:"polish"`
	Notes       NotesConfig       `yaml:"notes"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type CaptureConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	Device     string `yaml:"device"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	WAVDir     string `yaml:"wav_dir"`
}

type RecognitionConfig struct {
	Mode           string `yaml:"mode"` // mock, exec
	Command        string `yaml:"command"`
	ModelPath      string `yaml:"model_path"`
	Language       string `yaml:"language"`
	Continuous     bool   `yaml:"continuous"`
	InterimResults bool   `yaml:"interim_results"`
}

type SessionConfig struct {
	RestartDelayMS int    `yaml:"restart_delay_ms"`
	DurationPollMS int    `yaml:"duration_poll_ms"`
	Separator      string `yaml:"separator"`
	MaxRestarts    int    `yaml:"max_restarts"`
}

type PolishConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Mode        string  `yaml:"mode"` // mock, ollama, exec
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type NotesConfig struct {
	Enabled     bool `yaml:"enabled"`
	AutoPolish  bool `yaml:"auto_polish"`
	MinLength   int  `yaml:"min_length"`
	KeepInterim bool `yaml:"keep_interim"`
}

func Default() Config {
	return Config{
		RuntimeName: "dicta-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/dicta-nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Journal: JournalConfig{
			Path:          "./data/dicta-journal.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Capture: CaptureConfig{
			Mode:       "mock",
			SampleRate: 16000,
			Channels:   1,
		},
		Recognition: RecognitionConfig{
			Mode:           "mock",
			Language:       "en-US",
			Continuous:     true,
			InterimResults: true,
		},
		Session: SessionConfig{
			RestartDelayMS: 300,
			DurationPollMS: 1000,
			Separator:      " ",
			MaxRestarts:    0,
		},
		Polish: PolishConfig{
			Enabled:     false,
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   256,
			Temperature: 0.3,
		},
		Notes: NotesConfig{
			Enabled:    true,
			AutoPolish: false,
			MinLength:  1,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "DICTA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "DICTA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "DICTA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "DICTA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "DICTA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "DICTA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "DICTA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "DICTA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "DICTA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "DICTA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "DICTA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "DICTA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "DICTA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "DICTA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "DICTA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "DICTA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "DICTA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Journal.Path, "DICTA_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "DICTA_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "DICTA_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxSessions, "DICTA_JOURNAL_MAX_SESSIONS")
	overrideBool(&cfg.Journal.VacuumOnStart, "DICTA_JOURNAL_VACUUM_ON_START")
	overrideString(&cfg.Capture.Mode, "DICTA_CAPTURE_MODE")
	overrideString(&cfg.Capture.Command, "DICTA_CAPTURE_COMMAND")
	overrideString(&cfg.Capture.Device, "DICTA_CAPTURE_DEVICE")
	overrideInt(&cfg.Capture.SampleRate, "DICTA_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "DICTA_CAPTURE_CHANNELS")
	overrideString(&cfg.Capture.WAVDir, "DICTA_CAPTURE_WAV_DIR")
	overrideString(&cfg.Recognition.Mode, "DICTA_RECOGNITION_MODE")
	overrideString(&cfg.Recognition.Command, "DICTA_RECOGNITION_COMMAND")
	overrideString(&cfg.Recognition.ModelPath, "DICTA_RECOGNITION_MODEL_PATH")
	overrideString(&cfg.Recognition.Language, "DICTA_RECOGNITION_LANGUAGE")
	overrideBool(&cfg.Recognition.Continuous, "DICTA_RECOGNITION_CONTINUOUS")
	overrideBool(&cfg.Recognition.InterimResults, "DICTA_RECOGNITION_INTERIM_RESULTS")
	overrideInt(&cfg.Session.RestartDelayMS, "DICTA_SESSION_RESTART_DELAY_MS")
	overrideInt(&cfg.Session.DurationPollMS, "DICTA_SESSION_DURATION_POLL_MS")
	overrideString(&cfg.Session.Separator, "DICTA_SESSION_SEPARATOR")
	overrideInt(&cfg.Session.MaxRestarts, "DICTA_SESSION_MAX_RESTARTS")
	overrideBool(&cfg.Polish.Enabled, "DICTA_POLISH_ENABLED")
	overrideString(&cfg.Polish.Mode, "DICTA_POLISH_MODE")
	overrideString(&cfg.Polish.Endpoint, "DICTA_POLISH_ENDPOINT")
	overrideString(&cfg.Polish.Command, "DICTA_POLISH_COMMAND")
	overrideString(&cfg.Polish.Model, "DICTA_POLISH_MODEL")
	overrideInt(&cfg.Polish.MaxTokens, "DICTA_POLISH_MAX_TOKENS")
	overrideFloat(&cfg.Polish.Temperature, "DICTA_POLISH_TEMPERATURE")
	overrideBool(&cfg.Notes.Enabled, "DICTA_NOTES_ENABLED")
	overrideBool(&cfg.Notes.AutoPolish, "DICTA_NOTES_AUTO_POLISH")
	overrideInt(&cfg.Notes.MinLength, "DICTA_NOTES_MIN_LENGTH")
	overrideBool(&cfg.Notes.KeepInterim, "DICTA_NOTES_KEEP_INTERIM")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
		if cfg.Bus.StoreDir == "" {
			return errors.New("bus.store_dir must not be empty when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Journal.Path == "" {
		return errors.New("journal.path must not be empty")
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Capture.Mode {
	case "mock", "exec":
	default:
		return errors.New("capture.mode must be one of mock|exec")
	}
	if cfg.Capture.Mode == "exec" && cfg.Capture.Command == "" {
		return errors.New("capture.command must be set when mode=exec")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	switch cfg.Recognition.Mode {
	case "mock", "exec":
	default:
		return errors.New("recognition.mode must be one of mock|exec")
	}
	if cfg.Recognition.Mode == "exec" && cfg.Recognition.Command == "" {
		return errors.New("recognition.command must be set when mode=exec")
	}
	if cfg.Session.RestartDelayMS <= 0 {
		return errors.New("session.restart_delay_ms must be positive")
	}
	if cfg.Session.DurationPollMS <= 0 {
		return errors.New("session.duration_poll_ms must be positive")
	}
	if cfg.Session.MaxRestarts < 0 {
		return errors.New("session.max_restarts must be >= 0")
	}
	if cfg.Polish.Enabled {
		switch cfg.Polish.Mode {
		case "mock", "ollama", "exec":
		default:
			return errors.New("polish.mode must be one of mock|ollama|exec")
		}
		if cfg.Polish.Mode == "ollama" && cfg.Polish.Endpoint == "" {
			return errors.New("polish.endpoint must be set when mode=ollama")
		}
		if cfg.Polish.Mode == "exec" && cfg.Polish.Command == "" {
			return errors.New("polish.command must be set when mode=exec")
		}
		if cfg.Polish.MaxTokens < 0 {
			return errors.New("polish.max_tokens must be >= 0")
		}
	}
	if cfg.Notes.Enabled && cfg.Notes.MinLength < 0 {
		return errors.New("notes.min_length must be >= 0")
	}
	return nil
}
