// Package config loads the daemon configuration from a YAML file with
// CHORUS_* environment overrides. The loaded value is passed explicitly to
// every component; nothing reads configuration globally after startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"` // ephemeral or persistent
	RetentionDays int    `yaml:"retention_days"`
	MaxRecords    int    `yaml:"max_records"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type EngineConfig struct {
	Mode             string  `yaml:"mode"`        // mock or remote
	DecodeMode       string  `yaml:"decode_mode"` // mock, http or exec
	GenerateEndpoint string  `yaml:"generate_endpoint"`
	DecodeEndpoint   string  `yaml:"decode_endpoint"`
	DecodeCommand    string  `yaml:"decode_command"`
	RequestTimeoutMS int     `yaml:"request_timeout_ms"`
	Instances        int     `yaml:"instances"`
	BackendShare     float64 `yaml:"backend_share_per_instance"`
}

type GenerationConfig struct {
	Temperature       float64 `yaml:"temperature"`
	TopP              float64 `yaml:"top_p"`
	RepetitionPenalty float64 `yaml:"repetition_penalty"`
	MaxNewTokens      int     `yaml:"max_new_tokens"`
	MinNewTokens      int     `yaml:"min_new_tokens"`
}

type AudioConfig struct {
	SampleRate     int    `yaml:"sample_rate"`
	Format         string `yaml:"format"` // mp3 or wav
	Bitrate        string `yaml:"bitrate"`
	EncoderCommand string `yaml:"encoder_command"`
}

type TextConfig struct {
	MaxTokens     int `yaml:"max_tokens"`
	BytesPerToken int `yaml:"bytes_per_token"`
	MaxFileSizeMB int `yaml:"max_file_size_mb"`
}

type VoiceConfig struct {
	DefaultDescription string `yaml:"default_description"`
}

type Config struct {
	ServiceName string           `yaml:"service_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Store       StoreConfig      `yaml:"store"`
	Engine      EngineConfig     `yaml:"engine"`
	Generation  GenerationConfig `yaml:"generation"`
	Audio       AudioConfig      `yaml:"audio"`
	Text        TextConfig       `yaml:"text"`
	Voice       VoiceConfig      `yaml:"voice"`
}

func Default() Config {
	return Config{
		ServiceName: "chorus",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path:          "./data/chorus-synth.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxRecords:    10000,
		},
		Engine: EngineConfig{
			Mode:             "mock",
			DecodeMode:       "mock",
			RequestTimeoutMS: 120000,
			Instances:        3,
			BackendShare:     0.28,
		},
		Generation: GenerationConfig{
			Temperature:       0.4,
			TopP:              0.9,
			RepetitionPenalty: 1.1,
			MaxNewTokens:      2048,
			MinNewTokens:      28,
		},
		Audio: AudioConfig{
			SampleRate:     24000,
			Format:         "mp3",
			Bitrate:        "192k",
			EncoderCommand: "ffmpeg -hide_banner -loglevel error -f s16le -ar {rate} -ac 1 -i - -b:a {bitrate} -f mp3 -",
		},
		Text: TextConfig{
			MaxTokens:     1500,
			BytesPerToken: 4,
			MaxFileSizeMB: 10,
		},
		Voice: VoiceConfig{
			DefaultDescription: "neutral, conversational, clear",
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
	overrideString(&cfg.ServiceName, "CHORUS_SERVICE_NAME")
	overrideString(&cfg.Environment, "CHORUS_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "CHORUS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "CHORUS_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "CHORUS_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "CHORUS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "CHORUS_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "CHORUS_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "CHORUS_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "CHORUS_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "CHORUS_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "CHORUS_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "CHORUS_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "CHORUS_BUS_TOKEN")
	overrideInt(&cfg.Bus.ConnectTimeout, "CHORUS_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "CHORUS_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "CHORUS_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "CHORUS_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxRecords, "CHORUS_STORE_MAX_RECORDS")
	overrideBool(&cfg.Store.VacuumOnStart, "CHORUS_STORE_VACUUM_ON_START")
	overrideString(&cfg.Engine.Mode, "CHORUS_ENGINE_MODE")
	overrideString(&cfg.Engine.DecodeMode, "CHORUS_ENGINE_DECODE_MODE")
	overrideString(&cfg.Engine.GenerateEndpoint, "CHORUS_ENGINE_GENERATE_ENDPOINT")
	overrideString(&cfg.Engine.DecodeEndpoint, "CHORUS_ENGINE_DECODE_ENDPOINT")
	overrideString(&cfg.Engine.DecodeCommand, "CHORUS_ENGINE_DECODE_COMMAND")
	overrideInt(&cfg.Engine.RequestTimeoutMS, "CHORUS_ENGINE_REQUEST_TIMEOUT_MS")
	overrideInt(&cfg.Engine.Instances, "CHORUS_ENGINE_INSTANCES")
	overrideFloat(&cfg.Engine.BackendShare, "CHORUS_ENGINE_BACKEND_SHARE")
	overrideFloat(&cfg.Generation.Temperature, "CHORUS_GENERATION_TEMPERATURE")
	overrideFloat(&cfg.Generation.TopP, "CHORUS_GENERATION_TOP_P")
	overrideFloat(&cfg.Generation.RepetitionPenalty, "CHORUS_GENERATION_REPETITION_PENALTY")
	overrideInt(&cfg.Generation.MaxNewTokens, "CHORUS_GENERATION_MAX_NEW_TOKENS")
	overrideInt(&cfg.Generation.MinNewTokens, "CHORUS_GENERATION_MIN_NEW_TOKENS")
	overrideInt(&cfg.Audio.SampleRate, "CHORUS_AUDIO_SAMPLE_RATE")
	overrideString(&cfg.Audio.Format, "CHORUS_AUDIO_FORMAT")
	overrideString(&cfg.Audio.Bitrate, "CHORUS_AUDIO_BITRATE")
	overrideString(&cfg.Audio.EncoderCommand, "CHORUS_AUDIO_ENCODER_COMMAND")
	overrideInt(&cfg.Text.MaxTokens, "CHORUS_TEXT_MAX_TOKENS")
	overrideInt(&cfg.Text.BytesPerToken, "CHORUS_TEXT_BYTES_PER_TOKEN")
	overrideInt(&cfg.Text.MaxFileSizeMB, "CHORUS_TEXT_MAX_FILE_SIZE_MB")
	overrideString(&cfg.Voice.DefaultDescription, "CHORUS_VOICE_DEFAULT_DESCRIPTION")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return errors.New("store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Store.RetentionMode == "persistent" && cfg.Store.Path == "" {
		return errors.New("store.path must not be empty for persistent retention")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	switch cfg.Engine.Mode {
	case "mock":
	case "remote":
		if cfg.Engine.GenerateEndpoint == "" {
			return errors.New("engine.generate_endpoint must be set when mode=remote")
		}
		switch cfg.Engine.DecodeMode {
		case "http":
			if cfg.Engine.DecodeEndpoint == "" {
				return errors.New("engine.decode_endpoint must be set when decode_mode=http")
			}
		case "exec":
			if cfg.Engine.DecodeCommand == "" {
				return errors.New("engine.decode_command must be set when decode_mode=exec")
			}
		case "mock":
		default:
			return errors.New("engine.decode_mode must be one of mock|http|exec")
		}
	default:
		return errors.New("engine.mode must be one of mock|remote")
	}
	if cfg.Engine.Instances <= 0 {
		return errors.New("engine.instances must be >= 1")
	}
	if cfg.Generation.Temperature < 0 || cfg.Generation.Temperature > 2 {
		return errors.New("generation.temperature must be between 0 and 2")
	}
	if cfg.Generation.TopP <= 0 || cfg.Generation.TopP > 1 {
		return errors.New("generation.top_p must be in (0, 1]")
	}
	if cfg.Generation.RepetitionPenalty < 1 {
		return errors.New("generation.repetition_penalty must be >= 1")
	}
	if cfg.Generation.MaxNewTokens <= 0 {
		return errors.New("generation.max_new_tokens must be positive")
	}
	switch cfg.Audio.SampleRate {
	case 16000, 22050, 24000, 44100, 48000:
	default:
		return errors.New("audio.sample_rate must be one of 16000|22050|24000|44100|48000")
	}
	switch strings.ToLower(cfg.Audio.Format) {
	case "mp3", "wav":
	default:
		return errors.New("audio.format must be one of mp3|wav")
	}
	if cfg.Text.MaxTokens < 100 {
		return errors.New("text.max_tokens must be >= 100")
	}
	if cfg.Text.MaxFileSizeMB <= 0 {
		return errors.New("text.max_file_size_mb must be positive")
	}
	return nil
}
