package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Server  Server
	Library Library
	Tasks   Tasks
	YtDlp   YtDlp
}

type Server struct {
	Port int `env:"LOCALTUBE_PORT" envDefault:"8080"`
}

type Library struct {
	DataDir    string `env:"LOCALTUBE_DATA_DIR" envDefault:"data"`
	MediaDir   string `env:"LOCALTUBE_MEDIA_DIR" envDefault:"media"`
	WatchMedia bool   `env:"LOCALTUBE_WATCH_MEDIA" envDefault:"true"`
}

type Tasks struct {
	Concurrency        int           `env:"LOCALTUBE_CONCURRENCY" envDefault:"4"`
	TickInterval       time.Duration `env:"LOCALTUBE_TICK_INTERVAL" envDefault:"1s"`
	TaskTimeout        time.Duration `env:"LOCALTUBE_TASK_TIMEOUT" envDefault:"30m"`
	MaxAttempts        int           `env:"LOCALTUBE_MAX_ATTEMPTS" envDefault:"3"`
	BaseBackoff        time.Duration `env:"LOCALTUBE_BASE_BACKOFF" envDefault:"30s"`
	MaxBackoff         time.Duration `env:"LOCALTUBE_MAX_BACKOFF" envDefault:"10m"`
	CompletedRetention time.Duration `env:"LOCALTUBE_COMPLETED_RETENTION" envDefault:"5s"`
	FailedRetention    time.Duration `env:"LOCALTUBE_FAILED_RETENTION" envDefault:"30s"`
}

type YtDlp struct {
	Path          string `env:"LOCALTUBE_YTDLP_PATH" envDefault:"yt-dlp"`
	CallsPerMin   int    `env:"LOCALTUBE_YTDLP_RATE" envDefault:"30"`
	DebugCaptures bool   `env:"LOCALTUBE_YTDLP_DEBUG" envDefault:"false"`
}

func Load() (*Config, error) {
	// Missing .env is fine, env vars may come from the environment.
	_ = godotenv.Load()

	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, err
	}
	c.clamp()
	return &c, nil
}

func (c *Config) clamp() {
	if c.Tasks.Concurrency < 1 || c.Tasks.Concurrency > 8 {
		clamped := min(max(c.Tasks.Concurrency, 1), 8)
		log.Warn().
			Int("requested", c.Tasks.Concurrency).
			Int("using", clamped).
			Msg("LOCALTUBE_CONCURRENCY outside allowed range (1-8)")
		c.Tasks.Concurrency = clamped
	}
	if c.Tasks.MaxAttempts < 1 {
		c.Tasks.MaxAttempts = 1
	}
	if c.Tasks.TickInterval <= 0 {
		c.Tasks.TickInterval = time.Second
	}
}
