package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "fluxd.db"
	defaultLogFormat  = FormatAuto

	defaultEngineDir         = "ComfyUI"
	defaultEngineInterpreter = "python3"
	defaultEngineEntry       = "main.py"
	defaultEngineURL         = "http://127.0.0.1:8188"
	defaultGracePeriod       = 10 * time.Second
	defaultErrorQueueSize    = 256
	defaultLogHistory        = 500
	defaultWindow            = 2 * time.Second

	envConfig            = "FLUXD_CONFIG"
	envListenAddr        = "FLUXD_LISTEN_ADDR"
	envDBPath            = "FLUXD_DB_PATH"
	envLogLevel          = "FLUXD_LOG_LEVEL"
	envLogFormat         = "FLUXD_LOG_FORMAT"
	envEngineDir         = "FLUXD_ENGINE_DIR"
	envEngineInterpreter = "FLUXD_ENGINE_INTERPRETER"
	envEngineEntry       = "FLUXD_ENGINE_ENTRY"
	envEngineArgs        = "FLUXD_ENGINE_ARGS"
	envEngineURL         = "FLUXD_ENGINE_URL"
	envEngineLockFile    = "FLUXD_ENGINE_LOCK_FILE"
	envGracePeriod       = "FLUXD_ENGINE_GRACE_PERIOD"
	envErrorQueueSize    = "FLUXD_ERROR_QUEUE_SIZE"
	envLogHistory        = "FLUXD_LOG_HISTORY"
	envWindow            = "FLUXD_CORRELATION_WINDOW"
	envSerialize         = "FLUXD_SERIALIZE_SUBMISSIONS"
	envWorkflowsDir      = "FLUXD_WORKFLOWS_DIR"
	envOutputDir         = "FLUXD_OUTPUT_DIR"
	envModelDir          = "FLUXD_MODEL_DIR"
	envHuggingFaceToken  = "HUGGINGFACE_TOKEN"
)

// Log formats.
const (
	FormatJSON = "json"
	FormatText = "text"
	FormatAuto = "auto"
)

var defaultEngineArgs = []string{"--listen", "127.0.0.1", "--port", "8188"}

// Duration is a time.Duration written as a Go duration string ("2s").
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Engine configures the supervised engine process and its HTTP address.
type Engine struct {
	Dir            string   `toml:"dir"`
	Interpreter    string   `toml:"interpreter"`
	Entry          string   `toml:"entry"`
	Args           []string `toml:"args"`
	URL            string   `toml:"url"`
	LockFile       string   `toml:"lock_file"`
	GracePeriod    Duration `toml:"grace_period"`
	ErrorQueueSize int      `toml:"error_queue_size"`
	LogHistory     int      `toml:"log_history"`
}

// Dispatch configures submission correlation.
type Dispatch struct {
	Window    Duration `toml:"window"`
	Serialize bool     `toml:"serialize"`
}

// Paths holds filesystem locations outside the engine install.
type Paths struct {
	Workflows string `toml:"workflows"`
	Outputs   string `toml:"outputs"`
	Models    string `toml:"models"`
}

// Config holds application configuration. Values come from defaults, then
// an optional TOML file, then environment variables.
type Config struct {
	ListenAddr       string     `toml:"listen_addr"`
	DBPath           string     `toml:"db_path"`
	LogLevelName     string     `toml:"log_level"`
	LogLevel         slog.Level `toml:"-"`
	LogFormat        string     `toml:"log_format"`
	HuggingFaceToken string     `toml:"huggingface_token"`
	Engine           Engine     `toml:"engine"`
	Dispatch         Dispatch   `toml:"dispatch"`
	Paths            Paths      `toml:"paths"`

	// Source is the config file that was read, empty if none.
	Source string `toml:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:   defaultListenAddr,
		DBPath:       defaultDBPath,
		LogLevelName: "info",
		LogLevel:     slog.LevelInfo,
		LogFormat:    defaultLogFormat,
		Engine: Engine{
			Dir:            defaultEngineDir,
			Interpreter:    defaultEngineInterpreter,
			Entry:          defaultEngineEntry,
			Args:           append([]string(nil), defaultEngineArgs...),
			URL:            defaultEngineURL,
			GracePeriod:    Duration(defaultGracePeriod),
			ErrorQueueSize: defaultErrorQueueSize,
			LogHistory:     defaultLogHistory,
		},
		Dispatch: Dispatch{
			Window:    Duration(defaultWindow),
			Serialize: true,
		},
	}
}

// SampleConfig returns a commented example config file.
func SampleConfig() string {
	return sampleConfig
}

// Load builds the configuration. path names a TOML file; when empty,
// FLUXD_CONFIG is consulted, and when that is empty too no file is read.
// A named file that does not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(envConfig)
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s does not exist", path)
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.Source = path
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.ListenAddr, envListenAddr)
	setString(&c.DBPath, envDBPath)
	setString(&c.LogLevelName, envLogLevel)
	setString(&c.LogFormat, envLogFormat)
	setString(&c.HuggingFaceToken, envHuggingFaceToken)
	setString(&c.Engine.Dir, envEngineDir)
	setString(&c.Engine.Interpreter, envEngineInterpreter)
	setString(&c.Engine.Entry, envEngineEntry)
	setString(&c.Engine.URL, envEngineURL)
	setString(&c.Engine.LockFile, envEngineLockFile)
	setString(&c.Paths.Workflows, envWorkflowsDir)
	setString(&c.Paths.Outputs, envOutputDir)
	setString(&c.Paths.Models, envModelDir)

	if v := os.Getenv(envEngineArgs); v != "" {
		c.Engine.Args = strings.Fields(v)
	}

	return errors.Join(
		setDuration(&c.Engine.GracePeriod, envGracePeriod),
		setDuration(&c.Dispatch.Window, envWindow),
		setInt(&c.Engine.ErrorQueueSize, envErrorQueueSize),
		setInt(&c.Engine.LogHistory, envLogHistory),
		setBool(&c.Dispatch.Serialize, envSerialize),
	)
}

func (c *Config) normalize() {
	c.LogLevel = parseLogLevel(c.LogLevelName)
	c.LogFormat = strings.ToLower(c.LogFormat)
	if c.Engine.LockFile == "" {
		c.Engine.LockFile = filepath.Join(c.Engine.Dir, ".fluxd.lock")
	}
	if c.Paths.Outputs == "" {
		c.Paths.Outputs = filepath.Join(c.Engine.Dir, "output")
	}
	if c.Paths.Models == "" {
		c.Paths.Models = filepath.Join(c.Engine.Dir, "models")
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	switch c.LogFormat {
	case FormatJSON, FormatText, FormatAuto:
	default:
		errs = append(errs, fmt.Errorf("log_format must be json, text or auto, got %q", c.LogFormat))
	}
	if c.Engine.Entry == "" {
		errs = append(errs, errors.New("engine.entry is required"))
	}
	if c.Engine.URL == "" {
		errs = append(errs, errors.New("engine.url is required"))
	}
	if c.Engine.GracePeriod <= 0 {
		errs = append(errs, errors.New("engine.grace_period must be positive"))
	}
	if c.Engine.ErrorQueueSize <= 0 {
		errs = append(errs, errors.New("engine.error_queue_size must be positive"))
	}
	if c.Engine.LogHistory <= 0 {
		errs = append(errs, errors.New("engine.log_history must be positive"))
	}
	if c.Dispatch.Window <= 0 {
		errs = append(errs, errors.New("dispatch.window must be positive"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = Duration(d)
	return nil
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
