package refresh

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeTeamAggregates_Empty(t *testing.T) {
	agg := ComputeTeamAggregates(nil)
	assert.Equal(t, 0, agg.GamesPlayed)
	assert.Equal(t, 0, agg.Wins)
	assert.Zero(t, agg.FirstBloodRate)
	assert.Zero(t, agg.AvgGameDuration)
}

func TestComputeTeamAggregates_RatesAndAverages(t *testing.T) {
	matches := []*LinkedMatch{
		{
			ExternalID: "EUW1_1",
			Duration:   1800,
			Won:        true,
			Side: SideStats{
				DragonKills: 4, BaronKills: 1, TowerKills: 9,
				FirstBlood: true, FirstTower: true, FirstDragon: true, FirstBaron: true,
			},
		},
		{
			ExternalID: "EUW1_2",
			Duration:   2400,
			Won:        false,
			Side: SideStats{
				DragonKills: 2, BaronKills: 0, TowerKills: 3,
				FirstBlood: true,
			},
		},
		{
			ExternalID: "EUW1_3",
			Duration:   1500,
			Won:        true,
			Side: SideStats{
				DragonKills: 3, BaronKills: 2, TowerKills: 11,
				FirstTower: true,
			},
		},
	}

	agg := ComputeTeamAggregates(matches)

	assert.Equal(t, 3, agg.GamesPlayed)
	assert.Equal(t, 2, agg.Wins)
	assert.Equal(t, 1, agg.Losses)

	assert.InDelta(t, 66.67, agg.FirstBloodRate, 0.01)
	assert.InDelta(t, 66.67, agg.FirstTowerRate, 0.01)
	assert.InDelta(t, 33.33, agg.FirstDragonRate, 0.01)
	assert.InDelta(t, 33.33, agg.FirstBaronRate, 0.01)

	assert.Equal(t, 1900, agg.AvgGameDuration)
	assert.InDelta(t, 3.0, agg.AvgDragons, 0.001)
	assert.InDelta(t, 1.0, agg.AvgBarons, 0.001)
	assert.InDelta(t, 7.667, agg.AvgTowers, 0.001)
}
