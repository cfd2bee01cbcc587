package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type VoiceConfig struct {
	Model   string  `yaml:"model"`
	Speed   float64 `yaml:"speed"`
	Volume  float64 `yaml:"volume"`
	Silence float64 `yaml:"silence"`
}

type SynthConfig struct {
	Command string `yaml:"command"`
}

type PlayerConfig struct {
	Command       string `yaml:"command"`
	StopTimeoutMS int    `yaml:"stop_timeout_ms"`
	TempDir       string `yaml:"temp_dir"`
}

type ClipboardConfig struct {
	Command string `yaml:"command"`
}

type VoicesConfig struct {
	DataDir string `yaml:"data_dir"`
	BaseURL string `yaml:"base_url"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Servers        []string `yaml:"servers"`
	Subject        string   `yaml:"subject"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	TraceFile      string `yaml:"trace_file"`
}

type Config struct {
	Voice     VoiceConfig     `yaml:"voice"`
	Synth     SynthConfig     `yaml:"synth"`
	Player    PlayerConfig    `yaml:"player"`
	Clipboard ClipboardConfig `yaml:"clipboard"`
	Voices    VoicesConfig    `yaml:"voices"`
	History   HistoryConfig   `yaml:"history"`
	Bus       BusConfig       `yaml:"bus"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

func Default() Config {
	return Config{
		Voice: VoiceConfig{
			Speed:   1.0,
			Volume:  1.0,
			Silence: 0.6,
		},
		Synth: SynthConfig{
			Command: "piper",
		},
		Player: PlayerConfig{
			StopTimeoutMS: 2000,
		},
		Voices: VoicesConfig{
			BaseURL: "https://huggingface.co/rhasspy/piper-voices/resolve/main",
		},
		History: HistoryConfig{
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Bus: BusConfig{
			Servers:        []string{"nats://localhost:4222"},
			Subject:        "reed.playback.status",
			ConnectTimeout: 2000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "warn",
			LogFormat:    "text",
			OTLPInsecure: true,
		},
	}
}

// Dir is the per-user configuration directory, e.g. ~/.config/reed.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "reed"), nil
}

// Discover returns the default config file path when that file exists, and ""
// otherwise.
func Discover() string {
	dir, err := Dir()
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// LoadEnvFile adds the variables of a dotenv file to the process environment
// without replacing variables that are already set. A missing file is not an
// error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
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
	overrideString(&cfg.Voice.Model, "REED_VOICE_MODEL")
	overrideFloat(&cfg.Voice.Speed, "REED_VOICE_SPEED")
	overrideFloat(&cfg.Voice.Volume, "REED_VOICE_VOLUME")
	overrideFloat(&cfg.Voice.Silence, "REED_VOICE_SILENCE")
	overrideString(&cfg.Synth.Command, "REED_SYNTH_COMMAND")
	overrideString(&cfg.Player.Command, "REED_PLAYER_COMMAND")
	overrideInt(&cfg.Player.StopTimeoutMS, "REED_PLAYER_STOP_TIMEOUT_MS")
	overrideString(&cfg.Player.TempDir, "REED_PLAYER_TEMP_DIR")
	overrideString(&cfg.Clipboard.Command, "REED_CLIPBOARD_COMMAND")
	overrideString(&cfg.Voices.DataDir, "REED_VOICES_DATA_DIR")
	overrideString(&cfg.Voices.BaseURL, "REED_VOICES_BASE_URL")
	overrideString(&cfg.History.Path, "REED_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "REED_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "REED_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "REED_HISTORY_MAX_SESSIONS")
	overrideBool(&cfg.History.VacuumOnStart, "REED_HISTORY_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "REED_BUS_ENABLED")
	overrideStringSlice(&cfg.Bus.Servers, "REED_BUS_SERVERS")
	overrideString(&cfg.Bus.Subject, "REED_BUS_SUBJECT")
	overrideString(&cfg.Bus.Username, "REED_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "REED_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "REED_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "REED_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "REED_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Telemetry.LogLevel, "REED_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "REED_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "REED_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "REED_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "REED_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Telemetry.TraceFile, "REED_TELEMETRY_TRACE_FILE")
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

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("telemetry.log_level %q is not one of debug|info|warn|error", level)
	}
	return l, nil
}

func validate(cfg Config) error {
	if cfg.Voice.Speed <= 0 {
		return errors.New("voice.speed must be positive")
	}
	if cfg.Voice.Volume < 0 {
		return errors.New("voice.volume must be >= 0")
	}
	if cfg.Voice.Silence < 0 {
		return errors.New("voice.silence must be >= 0")
	}
	if strings.TrimSpace(cfg.Synth.Command) == "" {
		return errors.New("synth.command must not be empty")
	}
	if cfg.Player.StopTimeoutMS <= 0 {
		return errors.New("player.stop_timeout_ms must be positive")
	}
	if cfg.Voices.BaseURL == "" {
		return errors.New("voices.base_url must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	if cfg.History.MaxSessions < 0 {
		return errors.New("history.max_sessions must be >= 0")
	}
	if cfg.Bus.Enabled {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when the bus is enabled")
		}
		if cfg.Bus.Subject == "" {
			return errors.New("bus.subject must not be empty when the bus is enabled")
		}
		if cfg.Bus.ConnectTimeout <= 0 {
			return errors.New("bus.connect_timeout_ms must be positive")
		}
	}
	if _, err := ParseLevel(cfg.Telemetry.LogLevel); err != nil {
		return err
	}
	switch cfg.Telemetry.LogFormat {
	case "text", "json":
	default:
		return errors.New("telemetry.log_format must be one of text|json")
	}
	return nil
}
