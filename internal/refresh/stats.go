package refresh

// ComputeTeamAggregates derives the full statistics row from the team's
// linked matches. It is a total recomputation from the current set of links;
// callers never feed it deltas.
func ComputeTeamAggregates(matches []*LinkedMatch) TeamAggregates {
	agg := TeamAggregates{GamesPlayed: len(matches)}
	if len(matches) == 0 {
		return agg
	}

	var (
		durationSum int
		dragonSum   int
		baronSum    int
		towerSum    int
		firstBlood  int
		firstTower  int
		firstDragon int
		firstBaron  int
	)
	for _, m := range matches {
		if m.Won {
			agg.Wins++
		} else {
			agg.Losses++
		}
		durationSum += m.Duration
		dragonSum += m.Side.DragonKills
		baronSum += m.Side.BaronKills
		towerSum += m.Side.TowerKills
		if m.Side.FirstBlood {
			firstBlood++
		}
		if m.Side.FirstTower {
			firstTower++
		}
		if m.Side.FirstDragon {
			firstDragon++
		}
		if m.Side.FirstBaron {
			firstBaron++
		}
	}

	n := float64(len(matches))
	agg.FirstBloodRate = float64(firstBlood) / n * 100
	agg.FirstTowerRate = float64(firstTower) / n * 100
	agg.FirstDragonRate = float64(firstDragon) / n * 100
	agg.FirstBaronRate = float64(firstBaron) / n * 100
	agg.AvgGameDuration = durationSum / len(matches)
	agg.AvgDragons = float64(dragonSum) / n
	agg.AvgBarons = float64(baronSum) / n
	agg.AvgTowers = float64(towerSum) / n
	return agg
}
