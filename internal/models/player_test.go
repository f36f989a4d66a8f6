// player_test.go

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/verdantlab/BotanyBattle-Server/config"
)

func TestRankFor(t *testing.T) {
	bands := config.DefaultRankBands()

	assert.Equal(t, "Seedling", RankFor(bands, 0))
	assert.Equal(t, "Seedling", RankFor(bands, 1099))
	assert.Equal(t, "Sprout", RankFor(bands, 1100))
	assert.Equal(t, "Sapling", RankFor(bands, 1250))
	assert.Equal(t, "Blossom", RankFor(bands, 1599))
	assert.Equal(t, "Orchid", RankFor(bands, 1600))
	assert.Equal(t, "Ancient Oak", RankFor(bands, 2400))
}

func TestRankForUnorderedBands(t *testing.T) {
	bands := []config.RankBand{
		{MinRating: 1400, Label: "Blossom"},
		{MinRating: 0, Label: "Seedling"},
		{MinRating: 1100, Label: "Sprout"},
	}

	assert.Equal(t, "Sprout", RankFor(bands, 1200))
	assert.Equal(t, "Blossom", RankFor(bands, 1400))
}

func TestWinRate(t *testing.T) {
	p := &Player{}
	assert.Equal(t, 0.0, p.WinRate())

	p = &Player{TotalGames: 8, TotalWins: 6}
	assert.InDelta(t, 75.0, p.WinRate(), 0.001)
}

func TestAvgResponseMs(t *testing.T) {
	p := &Player{}
	assert.Equal(t, int64(0), p.AvgResponseMs())

	p = &Player{TotalAnswers: 10, TotalResponseMs: 42000}
	assert.Equal(t, int64(4200), p.AvgResponseMs())
}
