package admin

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/zeroremorse/scrimbot/internal/obslog"
	"github.com/zeroremorse/scrimbot/internal/record"
	"github.com/zeroremorse/scrimbot/internal/store"
	"github.com/zeroremorse/scrimbot/internal/tally"
)

// ErrInvalidCounts rejects out-of-range stat values.
var ErrInvalidCounts = errors.New("stat counts must be between 0 and 10000")

const maxStatCount = 10000

// Service performs bulk edits on the score store. Destructive operations
// take a timestamped backup first.
type Service struct {
	records *store.Store
}

func NewService(records *store.Store) *Service {
	return &Service{records: records}
}

// Stats returns the current win/loss/draw totals.
func (s *Service) Stats() (tally.Totals, error) {
	data, err := s.records.Load()
	if err != nil {
		return tally.Totals{}, err
	}
	return tally.Count(data), nil
}

// ResetStats backs the store up and wipes it, returning the backup path.
func (s *Service) ResetStats(editor string) (string, error) {
	backup, err := s.records.Backup()
	if err != nil {
		return "", fmt.Errorf("backup before reset: %w", err)
	}
	if err := s.records.Replace(nil); err != nil {
		return "", err
	}
	obslog.L().Info("stats_reset", zap.String("editor", editor), zap.String("backup", backup))
	return backup, nil
}

// SetStats replaces the store with synthetic records matching the given
// absolute counts.
func (s *Service) SetStats(wins, losses, draws int, editor string) (tally.Totals, error) {
	if !validCount(wins) || !validCount(losses) || !validCount(draws) {
		return tally.Totals{}, ErrInvalidCounts
	}
	if _, err := s.records.Backup(); err != nil {
		return tally.Totals{}, fmt.Errorf("backup before set: %w", err)
	}

	data := map[string]record.MatchRecord{}
	appendSynthetic(data, record.ResultWin, wins, editor)
	appendSynthetic(data, record.ResultDefeat, losses, editor)
	appendSynthetic(data, record.ResultDraw, draws, editor)
	if err := s.records.Replace(data); err != nil {
		return tally.Totals{}, err
	}
	obslog.L().Info("stats_set",
		zap.String("editor", editor),
		zap.Int("wins", wins), zap.Int("losses", losses), zap.Int("draws", draws))
	return tally.Totals{Wins: wins, Losses: losses, Draws: draws}, nil
}

// AdjustStats shifts the totals by deltas. Positive deltas append synthetic
// records; negative deltas remove the newest records of the matching result
// category, stopping early if fewer exist. IDs are renumbered afterwards.
func (s *Service) AdjustStats(dWins, dLosses, dDraws int, editor string) (tally.Totals, error) {
	if tooLarge(dWins) || tooLarge(dLosses) || tooLarge(dDraws) {
		return tally.Totals{}, ErrInvalidCounts
	}
	if _, err := s.records.Backup(); err != nil {
		return tally.Totals{}, fmt.Errorf("backup before adjust: %w", err)
	}

	var totals tally.Totals
	err := s.records.Update(func(data map[string]record.MatchRecord) error {
		applyDelta(data, record.ResultWin, dWins, editor)
		applyDelta(data, record.ResultDefeat, dLosses, editor)
		applyDelta(data, record.ResultDraw, dDraws, editor)
		renumber(data)
		totals = tally.Count(data)
		if !validCount(totals.Wins) || !validCount(totals.Losses) || !validCount(totals.Draws) {
			return ErrInvalidCounts
		}
		return nil
	})
	if err != nil {
		return tally.Totals{}, err
	}
	obslog.L().Info("stats_adjusted",
		zap.String("editor", editor),
		zap.Int("d_wins", dWins), zap.Int("d_losses", dLosses), zap.Int("d_draws", dDraws))
	return totals, nil
}

func validCount(n int) bool { return n >= 0 && n <= maxStatCount }

func tooLarge(d int) bool { return d > maxStatCount || d < -maxStatCount }

func synthetic(result record.Result, editor string) record.MatchRecord {
	rec := record.MatchRecord{
		UserID:           "admin",
		Username:         editor,
		MatchFormat:      record.FormatBO1,
		UploadType:       record.UploadScrim,
		ClanName:         "manual adjustment",
		Result:           result,
		Timestamp:        record.Now(),
		ExtractionMethod: record.MethodManual,
		Edited:           true,
		EditedBy:         editor,
		EditedAt:         record.Now(),
	}
	switch result {
	case record.ResultWin:
		rec.OurScore, rec.EnemyScore = 1, 0
	case record.ResultDefeat:
		rec.OurScore, rec.EnemyScore = 0, 1
	}
	return rec
}

func appendSynthetic(data map[string]record.MatchRecord, result record.Result, n int, editor string) {
	for i := 0; i < n; i++ {
		id := strconv.Itoa(len(data) + 1)
		rec := synthetic(result, editor)
		rec.ID = id
		data[id] = rec
	}
}

func applyDelta(data map[string]record.MatchRecord, result record.Result, delta int, editor string) {
	if delta > 0 {
		appendSynthetic(data, result, delta, editor)
		return
	}
	for ; delta < 0; delta++ {
		id, ok := newestOf(data, result)
		if !ok {
			return
		}
		delete(data, id)
	}
}

// newestOf returns the highest-id record with the given result.
func newestOf(data map[string]record.MatchRecord, result record.Result) (string, bool) {
	best := -1
	var bestID string
	for id, rec := range data {
		if rec.Result != result {
			continue
		}
		n, err := strconv.Atoi(id)
		if err != nil {
			continue
		}
		if n > best {
			best = n
			bestID = id
		}
	}
	return bestID, best >= 0
}

// renumber reassigns sequential ids 1..N to numerically-keyed records,
// preserving their order. Entries under non-numeric keys (hand-edited store
// files) are kept untouched.
func renumber(data map[string]record.MatchRecord) {
	ids := make([]int, 0, len(data))
	for id := range data {
		if n, err := strconv.Atoi(id); err == nil {
			ids = append(ids, n)
		}
	}
	sort.Ints(ids)
	out := make(map[string]record.MatchRecord, len(ids))
	for i, n := range ids {
		old := strconv.Itoa(n)
		id := strconv.Itoa(i + 1)
		rec := data[old]
		rec.ID = id
		out[id] = rec
		delete(data, old)
	}
	for id, rec := range out {
		data[id] = rec
	}
}
