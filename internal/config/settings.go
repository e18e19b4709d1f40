package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Environment names used to pick the log handler
const (
	EnvLocal = "local"
	EnvDebug = "debug"
	EnvProd  = "prod"
)

// Default values
const (
	DefaultConfigPath      = "./config/config.yaml"
	DefaultMaxParallel     = 2
	MaxParallelLimit       = 10
	DefaultBudgetBytes     = 2 * 1024 * 1024 * 1024
	DefaultHeadroom        = 0.95
	MinProgressInterval    = time.Second
	DefaultProgressSeconds = 5 * time.Second
)

// ErrSharedOutputDir is returned when delivered files would land among temp files
var ErrSharedOutputDir = errors.New("output_dir must differ from work_dir")

// Config holds every runtime setting. Values come from an optional YAML file,
// then the environment (including a .env file), then env-default tags.
type Config struct {
	Env         string `yaml:"env" env:"RELAY_ENV" env-default:"local"`
	WorkDir     string `yaml:"work_dir" env:"RELAY_WORK_DIR" env-default:"./downloads"`
	OutputDir   string `yaml:"output_dir" env:"RELAY_OUTPUT_DIR" env-default:"./delivered"`
	JournalPath string `yaml:"journal_path" env:"RELAY_JOURNAL_PATH" env-default:"./downloads/journal.db"`
	Language    string `yaml:"language" env:"RELAY_LANGUAGE" env-default:"en"`

	MaxParallel    int   `yaml:"max_parallel" env:"RELAY_MAX_PARALLEL" env-default:"2"`
	Workers        int   `yaml:"workers" env:"RELAY_WORKERS" env-default:"4"`
	BudgetBytes    int64 `yaml:"budget_bytes" env:"RELAY_BUDGET_BYTES" env-default:"2147483648"`
	AllowTranscode bool  `yaml:"allow_transcode" env:"RELAY_ALLOW_TRANSCODE" env-default:"true"`
	RetainFinished int   `yaml:"retain_finished" env:"RELAY_RETAIN_FINISHED" env-default:"100"`

	Progress  Progress  `yaml:"progress"`
	Extractor Extractor `yaml:"extractor"`
	Stream    Stream    `yaml:"stream"`
	Transcode Transcode `yaml:"transcode"`
	Probe     Probe     `yaml:"probe"`
	HTTP      HTTP      `yaml:"http"`
}

// Progress controls notification throttling
type Progress struct {
	Interval time.Duration `yaml:"interval" env:"RELAY_PROGRESS_INTERVAL" env-default:"5s"`
}

// Extractor configures the site-specific backend
type Extractor struct {
	Hosts           []string      `yaml:"hosts" env:"RELAY_EXTRACTOR_HOSTS" env-separator:"," env-default:"youtube.com,youtu.be,xvideos.com,vimeo.com"`
	MaxHeight       int           `yaml:"max_height" env:"RELAY_EXTRACTOR_MAX_HEIGHT" env-default:"720"`
	DryRunTimeout   time.Duration `yaml:"dry_run_timeout" env:"RELAY_EXTRACTOR_DRY_RUN_TIMEOUT" env-default:"30s"`
	DownloadTimeout time.Duration `yaml:"download_timeout" env:"RELAY_EXTRACTOR_DOWNLOAD_TIMEOUT" env-default:"2h"`
	Retries         int           `yaml:"retries" env:"RELAY_EXTRACTOR_RETRIES" env-default:"1"`
	AutoInstall     bool          `yaml:"auto_install" env:"RELAY_EXTRACTOR_AUTO_INSTALL" env-default:"false"`
}

// Stream configures the generic HTTP backend
type Stream struct {
	UserAgent     string        `yaml:"user_agent" env:"RELAY_STREAM_USER_AGENT" env-default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"`
	HeaderTimeout time.Duration `yaml:"header_timeout" env:"RELAY_STREAM_HEADER_TIMEOUT" env-default:"30s"`
	ReadTimeout   time.Duration `yaml:"read_timeout" env:"RELAY_STREAM_READ_TIMEOUT" env-default:"60s"`
	ChunkSize     int           `yaml:"chunk_size" env:"RELAY_STREAM_CHUNK_SIZE" env-default:"1048576"`
	Retries       int           `yaml:"retries" env:"RELAY_STREAM_RETRIES" env-default:"1"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" env:"RELAY_STREAM_RETRY_BACKOFF" env-default:"2s"`
}

// Transcode configures the size-budget encoder
type Transcode struct {
	FFmpegPath   string        `yaml:"ffmpeg_path" env:"RELAY_FFMPEG_PATH" env-default:"ffmpeg"`
	AudioKbps    int           `yaml:"audio_kbps" env:"RELAY_TRANSCODE_AUDIO_KBPS" env-default:"96"`
	MinVideoKbps int           `yaml:"min_video_kbps" env:"RELAY_TRANSCODE_MIN_VIDEO_KBPS" env-default:"500"`
	MaxVideoKbps int           `yaml:"max_video_kbps" env:"RELAY_TRANSCODE_MAX_VIDEO_KBPS" env-default:"8000"`
	Headroom     float64       `yaml:"headroom" env:"RELAY_TRANSCODE_HEADROOM" env-default:"0.95"`
	Preset       string        `yaml:"preset" env:"RELAY_TRANSCODE_PRESET" env-default:"medium"`
	Timeout      time.Duration `yaml:"timeout" env:"RELAY_TRANSCODE_TIMEOUT" env-default:"3h"`
	PollInterval time.Duration `yaml:"poll_interval" env:"RELAY_TRANSCODE_POLL_INTERVAL" env-default:"2s"`
}

// Probe configures the media inspector
type Probe struct {
	FFprobePath string        `yaml:"ffprobe_path" env:"RELAY_FFPROBE_PATH" env-default:"ffprobe"`
	FFmpegPath  string        `yaml:"ffmpeg_path" env:"RELAY_PROBE_FFMPEG_PATH" env-default:"ffmpeg"`
	Timeout     time.Duration `yaml:"timeout" env:"RELAY_PROBE_TIMEOUT" env-default:"60s"`
}

// HTTP configures the control API server
type HTTP struct {
	Address      string        `yaml:"address" env:"RELAY_HTTP_ADDRESS" env-default:":8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"RELAY_HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"RELAY_HTTP_WRITE_TIMEOUT" env-default:"10s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"RELAY_HTTP_IDLE_TIMEOUT" env-default:"60s"`
}

// Load reads configuration from path (if the file exists) and the environment.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
			cfg.Normalize()
			return &cfg, nil
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Normalize clamps values into their supported ranges
func (c *Config) Normalize() {
	if c.MaxParallel < 1 {
		c.MaxParallel = 1
	}
	if c.MaxParallel > MaxParallelLimit {
		c.MaxParallel = MaxParallelLimit
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.RetainFinished < 1 {
		c.RetainFinished = 1
	}
	if c.BudgetBytes <= 0 {
		c.BudgetBytes = DefaultBudgetBytes
	}
	if c.Progress.Interval < MinProgressInterval {
		c.Progress.Interval = MinProgressInterval
	}
	if c.Transcode.Headroom <= 0 || c.Transcode.Headroom > 1 {
		c.Transcode.Headroom = DefaultHeadroom
	}
	if c.Transcode.MinVideoKbps <= 0 {
		c.Transcode.MinVideoKbps = 500
	}
	if c.Transcode.MaxVideoKbps < c.Transcode.MinVideoKbps {
		c.Transcode.MaxVideoKbps = c.Transcode.MinVideoKbps
	}
	if c.Stream.ChunkSize <= 0 {
		c.Stream.ChunkSize = 1 << 20
	}
	if c.Stream.Retries < 0 {
		c.Stream.Retries = 0
	}
	if c.Extractor.Retries < 0 {
		c.Extractor.Retries = 0
	}
	if c.Extractor.MaxHeight <= 0 {
		c.Extractor.MaxHeight = 720
	}
	switch c.Language {
	case "en", "pt", "ru":
	default:
		c.Language = "en"
	}
}

// Validate rejects settings that cannot work together
func (c *Config) Validate() error {
	work, err := filepath.Abs(c.WorkDir)
	if err != nil {
		return fmt.Errorf("resolve work_dir: %w", err)
	}
	out, err := filepath.Abs(c.OutputDir)
	if err != nil {
		return fmt.Errorf("resolve output_dir: %w", err)
	}
	if work == out {
		return fmt.Errorf("%w: both are %s", ErrSharedOutputDir, work)
	}
	return nil
}

// ConfigPath returns the config file location from RELAY_CONFIG or the default
func ConfigPath() string {
	if p := os.Getenv("RELAY_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigPath
}
