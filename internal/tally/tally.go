package tally

import (
	"fmt"

	"github.com/zeroremorse/scrimbot/internal/record"
)

// Aggregate folds per-map scores into a series score: maps won vs maps not
// won, with the series result derived from that comparison.
func Aggregate(maps []record.MapScore) (our, enemy int, result record.Result) {
	for _, m := range maps {
		if m.Result == record.ResultWin {
			our++
		} else {
			enemy++
		}
	}
	return our, enemy, record.ResultFromScores(our, enemy)
}

// Totals counts stored records by outcome.
type Totals struct {
	Wins   int
	Losses int
	Draws  int
}

func (t Totals) Total() int { return t.Wins + t.Losses + t.Draws }

func Count(records map[string]record.MatchRecord) Totals {
	var t Totals
	for _, rec := range records {
		switch rec.Result {
		case record.ResultWin:
			t.Wins++
		case record.ResultDefeat:
			t.Losses++
		case record.ResultDraw:
			t.Draws++
		}
	}
	return t
}

func displayResult(r record.Result) string {
	switch r {
	case record.ResultWin:
		return "Win"
	case record.ResultDefeat:
		return "Lose"
	default:
		return "Draw"
	}
}

// Summary renders the channel announcement for a saved record with the
// running totals as of that save.
func Summary(rec record.MatchRecord, totals Totals) string {
	return fmt.Sprintf("GG %s\n%s\n%d-%d %s\nWins - %d\nLoses - %d\nDraws - %d",
		rec.ClanName, rec.MatchFormat,
		rec.OurScore, rec.EnemyScore, displayResult(rec.Result),
		totals.Wins, totals.Losses, totals.Draws)
}
