package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	JWT     JWTConfig     `yaml:"jwt"`
	Redis   RedisConfig   `yaml:"redis"`
	Session SessionConfig `yaml:"session"`
	Map     MapConfig     `yaml:"map"`
	Reach   ReachConfig   `yaml:"reach"`
	Units   UnitsConfig   `yaml:"units"`
}

// ServerConfig holds server-specific settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// JWTConfig holds JWT authentication settings
type JWTConfig struct {
	Issuer              string `yaml:"issuer"`
	PublicKeyURL        string `yaml:"public_key_url"`
	PublicKeyFile       string `yaml:"public_key_file"` // Local PEM, used when no URL is set
	PublicKeyRefreshHrs int    `yaml:"public_key_refresh_hours"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address         string `yaml:"address"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	BlacklistPrefix string `yaml:"blacklist_prefix"`
	CachePrefix     string `yaml:"cache_prefix"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"` // negative disables the reach cache
}

// SessionConfig holds game session settings
type SessionConfig struct {
	MaxPlayers int `yaml:"max_players"`
}

// TerrainConfig describes one terrain kind
type TerrainConfig struct {
	Code   int    `yaml:"code"`
	Name   string `yaml:"name"`
	Cost   int    `yaml:"cost"`
	Weight int    `yaml:"weight"` // Relative frequency in generated maps
}

// MapConfig holds map generation settings
type MapConfig struct {
	Width    int             `yaml:"width"`
	Height   int             `yaml:"height"`
	Seed     int64           `yaml:"seed"`
	Terrains []TerrainConfig `yaml:"terrains"`
}

// ReachConfig holds reachability engine settings
type ReachConfig struct {
	MinStep   int  `yaml:"min_step"`
	MaxBudget int  `yaml:"max_budget"`
	LogOffMap bool `yaml:"log_off_map"`
}

// UnitProfile describes how a kind of unit moves
type UnitProfile struct {
	Movement int         `yaml:"movement"`
	Affinity map[int]int `yaml:"affinity"` // terrain code -> cost delta
}

// UnitsConfig holds unit movement profiles
type UnitsConfig struct {
	DefaultProfile string                 `yaml:"default_profile"`
	Profiles       map[string]UnitProfile `yaml:"profiles"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, fills in defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.JWT.PublicKeyRefreshHrs == 0 {
		cfg.JWT.PublicKeyRefreshHrs = 24
	}
	if cfg.Redis.CachePrefix == "" {
		cfg.Redis.CachePrefix = "reach:"
	}
	if cfg.Redis.CacheTTLSeconds == 0 {
		cfg.Redis.CacheTTLSeconds = 300
	}
	if cfg.Session.MaxPlayers == 0 {
		cfg.Session.MaxPlayers = 100
	}
	if cfg.Map.Width == 0 {
		cfg.Map.Width = 100
	}
	if cfg.Map.Height == 0 {
		cfg.Map.Height = 100
	}
	if len(cfg.Map.Terrains) == 0 {
		cfg.Map.Terrains = []TerrainConfig{
			{Code: 1, Name: "plains", Cost: 1, Weight: 1},
			{Code: 2, Name: "desert", Cost: 2, Weight: 1},
			{Code: 3, Name: "mountain", Cost: 3, Weight: 1},
		}
	}
	if cfg.Reach.MinStep == 0 {
		cfg.Reach.MinStep = 1
	}
	if cfg.Reach.MaxBudget == 0 {
		cfg.Reach.MaxBudget = 64
	}
	if cfg.Units.DefaultProfile == "" {
		cfg.Units.DefaultProfile = "infantry"
	}
	if cfg.Units.Profiles == nil {
		cfg.Units.Profiles = make(map[string]UnitProfile)
	}
	if _, ok := cfg.Units.Profiles[cfg.Units.DefaultProfile]; !ok {
		cfg.Units.Profiles[cfg.Units.DefaultProfile] = UnitProfile{Movement: 4}
	}
}

// Validate checks settings that have no sensible default
func (cfg *Config) Validate() error {
	if cfg.Map.Width < 0 || cfg.Map.Height < 0 {
		return fmt.Errorf("map size %dx%d is negative", cfg.Map.Width, cfg.Map.Height)
	}

	seen := make(map[int]bool, len(cfg.Map.Terrains))
	totalWeight := 0
	for _, t := range cfg.Map.Terrains {
		if t.Code <= 0 {
			return fmt.Errorf("terrain %q: code must be greater than 0, got %d", t.Name, t.Code)
		}
		if seen[t.Code] {
			return fmt.Errorf("terrain code %d is defined more than once", t.Code)
		}
		seen[t.Code] = true
		if t.Cost < 0 {
			return fmt.Errorf("terrain %q: cost must not be negative, got %d", t.Name, t.Cost)
		}
		if t.Weight < 0 {
			return fmt.Errorf("terrain %q: weight must not be negative, got %d", t.Name, t.Weight)
		}
		totalWeight += t.Weight
	}
	if totalWeight == 0 {
		return fmt.Errorf("at least one terrain needs a positive weight")
	}

	if cfg.Reach.MinStep < 1 {
		return fmt.Errorf("reach.min_step must be at least 1, got %d", cfg.Reach.MinStep)
	}
	if cfg.Reach.MaxBudget < 0 {
		return fmt.Errorf("reach.max_budget must not be negative, got %d", cfg.Reach.MaxBudget)
	}

	for name, p := range cfg.Units.Profiles {
		if p.Movement < 0 {
			return fmt.Errorf("unit profile %q: movement must not be negative, got %d", name, p.Movement)
		}
		for code := range p.Affinity {
			if code <= 0 {
				return fmt.Errorf("unit profile %q: affinity terrain code must be greater than 0, got %d", name, code)
			}
		}
	}
	return nil
}
