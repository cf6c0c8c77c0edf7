package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server         ServerConfig         `toml:"server"`
	Tick           TickConfig           `toml:"tick"`
	API            APIConfig            `toml:"api"`
	Mascots        MascotsConfig        `toml:"mascots"`
	Displays       []DisplayConfig      `toml:"displays"`
	Sandbox        RectConfig           `toml:"sandbox"`
	WindowObserver WindowObserverConfig `toml:"window_observer"`
	Database       DatabaseConfig       `toml:"database"`
	Logging        LoggingConfig        `toml:"logging"`
}

type ServerConfig struct {
	Name      string `toml:"name"`
	StartTime int64  // set at boot, not from config
}

type TickConfig struct {
	FramePeriod     time.Duration `toml:"frame_period"`  // one rendered frame
	SubtickCount    int           `toml:"subtick_count"` // simulation steps per frame
	RendezvousQueue int           `toml:"rendezvous_queue"`
}

// Period is the simulation tick period.
func (t TickConfig) Period() time.Duration {
	n := t.SubtickCount
	if n <= 0 {
		n = 1
	}
	return t.FramePeriod / time.Duration(n)
}

type APIConfig struct {
	Enabled      bool          `toml:"enabled"`
	BindAddress  string        `toml:"bind_address"`
	TokenHash    string        `toml:"token_hash"` // bcrypt hash; empty disables auth
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
}

type MascotsConfig struct {
	Path          string   `toml:"path"`
	UserScale     float64  `toml:"user_scale"`
	Windowed      bool     `toml:"windowed"`
	AllowBreeding bool     `toml:"allow_breeding"`
	SpawnOnStart  []string `toml:"spawn_on_start"`
}

type RectConfig struct {
	X int `toml:"x"`
	Y int `toml:"y"`
	W int `toml:"w"`
	H int `toml:"h"`
}

// DisplayConfig describes one display of the headless platform backend.
type DisplayConfig struct {
	ID        int        `toml:"id"`
	Geometry  RectConfig `toml:"geometry"`
	Available RectConfig `toml:"available"`
}

type WindowObserverConfig struct {
	TickFrequency time.Duration `toml:"tick_frequency"` // 0 = never ticked
	MaxAge        time.Duration `toml:"max_age"`        // 0 = observations never go stale
}

type DatabaseConfig struct {
	Driver           string        `toml:"driver"` // "", "postgres" or "sqlite"
	DSN              string        `toml:"dsn"`
	MaxOpenConns     int           `toml:"max_open_conns"`
	MaxIdleConns     int           `toml:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `toml:"conn_max_lifetime"`
	SnapshotInterval int           `toml:"snapshot_interval"` // ticks between position snapshots
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.Server.StartTime = time.Now().Unix()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Tick.FramePeriod <= 0 {
		return fmt.Errorf("tick.frame_period must be positive")
	}
	if c.Tick.SubtickCount <= 0 {
		return fmt.Errorf("tick.subtick_count must be positive")
	}
	if c.Mascots.UserScale <= 0 {
		return fmt.Errorf("mascots.user_scale must be positive")
	}
	switch c.Database.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver %q not supported", c.Database.Driver)
	}
	seen := make(map[int]bool, len(c.Displays))
	for _, d := range c.Displays {
		if d.ID <= 0 {
			return fmt.Errorf("display id %d: ids start at 1", d.ID)
		}
		if seen[d.ID] {
			return fmt.Errorf("display id %d listed twice", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "shijima",
		},
		Tick: TickConfig{
			FramePeriod:     40 * time.Millisecond,
			SubtickCount:    4,
			RendezvousQueue: 256,
		},
		API: APIConfig{
			Enabled:      true,
			BindAddress:  "127.0.0.1:32456",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Mascots: MascotsConfig{
			Path:          "mascots",
			UserScale:     1.0,
			AllowBreeding: true,
		},
		Displays: []DisplayConfig{
			{
				ID:        1,
				Geometry:  RectConfig{W: 1920, H: 1080},
				Available: RectConfig{W: 1920, H: 1040},
			},
		},
		Sandbox: RectConfig{X: 100, Y: 100, W: 640, H: 480},
		Database: DatabaseConfig{
			MaxOpenConns:     4,
			MaxIdleConns:     1,
			ConnMaxLifetime:  30 * time.Minute,
			SnapshotInterval: 500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
