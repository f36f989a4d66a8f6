// config.go

package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Game     GameConfig     `mapstructure:"game"`
}

// ServerConfig holds network and runtime settings.
type ServerConfig struct {
	BattlePort int    `mapstructure:"battle_port"`
	MatchPort  int    `mapstructure:"match_port"`
	Debug      bool   `mapstructure:"debug"`
	LogLevel   string `mapstructure:"log_level"`
	JWTSecret  string `mapstructure:"jwt_secret"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GameConfig holds the battle and rating tunables.
type GameConfig struct {
	// Rating
	KFactor       int        `mapstructure:"k_factor"`
	InitialRating int        `mapstructure:"initial_rating"`
	RankBands     []RankBand `mapstructure:"rank_bands"`

	// Rounds
	RoundsPerBattle      int            `mapstructure:"rounds_per_battle"`
	MaxSuddenDeathRounds int            `mapstructure:"max_sudden_death_rounds"`
	AnswerWindowSeconds  map[string]int `mapstructure:"answer_window_seconds"`

	// Matchmaking
	MatchRatingThreshold int `mapstructure:"match_rating_threshold"`
	MatchWidenStep       int `mapstructure:"match_widen_step"`
	MatchWidenInterval   int `mapstructure:"match_widen_interval_seconds"`
	MatchRatingCeiling   int `mapstructure:"match_rating_ceiling"`
	MatchTimeoutSeconds  int `mapstructure:"match_timeout_seconds"`
	InviteTTLSeconds     int `mapstructure:"invite_ttl_seconds"`

	// Session lifecycle
	ReadyTimeoutSeconds    int `mapstructure:"ready_timeout_seconds"`
	DisconnectGraceSeconds int `mapstructure:"disconnect_grace_seconds"`
	RetentionSeconds       int `mapstructure:"retention_seconds"`

	// Leaderboard
	LeaderboardTTLSeconds int `mapstructure:"leaderboard_ttl_seconds"`

	// Rewards
	WinnerReward int `mapstructure:"winner_reward"`
	LoserReward  int `mapstructure:"loser_reward"`
}

// RankBand maps a minimum rating to a rank label.
type RankBand struct {
	MinRating int    `mapstructure:"min_rating"`
	Label     string `mapstructure:"label"`
}

// LoadConfig reads the configuration file and applies defaults.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to parse config file: %w", err)
	}

	if len(cfg.Game.RankBands) == 0 {
		cfg.Game.RankBands = DefaultRankBands()
	}

	return &cfg, nil
}

// setDefaults registers fallback values for every tunable.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.battle_port", 3001)
	v.SetDefault("server.match_port", 3002)

	v.SetDefault("game.k_factor", 32)
	v.SetDefault("game.initial_rating", 1000)
	v.SetDefault("game.rounds_per_battle", 5)
	v.SetDefault("game.max_sudden_death_rounds", 5)
	v.SetDefault("game.answer_window_seconds", map[string]int{
		"easy": 20, "medium": 15, "hard": 12, "expert": 10,
	})

	v.SetDefault("game.match_rating_threshold", 300)
	v.SetDefault("game.match_widen_step", 50)
	v.SetDefault("game.match_widen_interval_seconds", 5)
	v.SetDefault("game.match_rating_ceiling", 600)
	v.SetDefault("game.match_timeout_seconds", 30)
	v.SetDefault("game.invite_ttl_seconds", 300)

	v.SetDefault("game.ready_timeout_seconds", 30)
	v.SetDefault("game.disconnect_grace_seconds", 30)
	v.SetDefault("game.retention_seconds", 120)

	v.SetDefault("game.leaderboard_ttl_seconds", 300)

	v.SetDefault("game.winner_reward", 100)
	v.SetDefault("game.loser_reward", 20)
}

// DefaultRankBands returns the built-in rating to rank mapping.
func DefaultRankBands() []RankBand {
	return []RankBand{
		{MinRating: 0, Label: "Seedling"},
		{MinRating: 1100, Label: "Sprout"},
		{MinRating: 1250, Label: "Sapling"},
		{MinRating: 1400, Label: "Blossom"},
		{MinRating: 1600, Label: "Orchid"},
		{MinRating: 1800, Label: "Ancient Oak"},
	}
}

// AnswerWindow returns the answer window duration for a difficulty band.
func (g *GameConfig) AnswerWindow(band string) time.Duration {
	if secs, ok := g.AnswerWindowSeconds[band]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 15 * time.Second
}

// GetDSN builds the PostgreSQL connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// GetRedisAddr builds the Redis connection address.
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
