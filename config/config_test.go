// config_test.go

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  jwt_secret: "test-secret"
database:
  host: localhost
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Server.BattlePort)
	assert.Equal(t, 3002, cfg.Server.MatchPort)
	assert.Equal(t, "test-secret", cfg.Server.JWTSecret)

	assert.Equal(t, 32, cfg.Game.KFactor)
	assert.Equal(t, 1000, cfg.Game.InitialRating)
	assert.Equal(t, 5, cfg.Game.RoundsPerBattle)
	assert.Equal(t, 300, cfg.Game.MatchRatingThreshold)
	assert.Equal(t, 50, cfg.Game.MatchWidenStep)
	assert.Equal(t, 300, cfg.Game.LeaderboardTTLSeconds)
	assert.Equal(t, 100, cfg.Game.WinnerReward)
	assert.Equal(t, 20, cfg.Game.LoserReward)

	require.NotEmpty(t, cfg.Game.RankBands)
	assert.Equal(t, "Seedling", cfg.Game.RankBands[0].Label)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  battle_port: 9001
game:
  k_factor: 24
  rounds_per_battle: 3
  rank_bands:
    - min_rating: 0
      label: Novice
    - min_rating: 1500
      label: Master
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.BattlePort)
	assert.Equal(t, 24, cfg.Game.KFactor)
	assert.Equal(t, 3, cfg.Game.RoundsPerBattle)
	require.Len(t, cfg.Game.RankBands, 2)
	assert.Equal(t, "Master", cfg.Game.RankBands[1].Label)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestAnswerWindow(t *testing.T) {
	g := &GameConfig{AnswerWindowSeconds: map[string]int{"easy": 20, "expert": 10}}

	assert.Equal(t, 20*time.Second, g.AnswerWindow("easy"))
	assert.Equal(t, 10*time.Second, g.AnswerWindow("expert"))
	// Unknown bands fall back to a sane window.
	assert.Equal(t, 15*time.Second, g.AnswerWindow("impossible"))
}

func TestGetDSN(t *testing.T) {
	c := &DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "botany", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=botany sslmode=disable", c.GetDSN())
}

func TestGetRedisAddr(t *testing.T) {
	c := &RedisConfig{Host: "cache", Port: 6379}
	assert.Equal(t, "cache:6379", c.GetRedisAddr())
}
