package backtest

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"
)

// ReplayProcessor is a deterministic in-process recommendation source for
// development and tests. Each game day yields a fixed slate whose
// confidences, odds and outcomes are derived from a hash of the seed and
// date, so runs are reproducible without a historical database.
type ReplayProcessor struct {
	seed        string
	gamesPerDay int
	edge        float64
}

// NewReplayProcessor builds a replay processor from rule parameters:
// "seed" (string), "games_per_day" (number, default 8) and "edge"
// (number in [0, 0.2], the win-probability lift above a coin flip).
func NewReplayProcessor(params map[string]any) (Processor, error) {
	p := &ReplayProcessor{
		seed:        "mlb-2024",
		gamesPerDay: 8,
		edge:        0.07,
	}
	if v, ok := params["seed"].(string); ok && v != "" {
		p.seed = v
	}
	if v, ok := numberParam(params, "games_per_day"); ok {
		if v < 1 || v > 16 {
			return nil, fmt.Errorf("games_per_day %v out of range [1, 16]", v)
		}
		p.gamesPerDay = int(v)
	}
	if v, ok := numberParam(params, "edge"); ok {
		if v < 0 || v > 0.2 {
			return nil, fmt.Errorf("edge %v out of range [0, 0.2]", v)
		}
		p.edge = v
	}
	return p, nil
}

// RegisterBuiltin registers the processor types that ship with the service.
func RegisterBuiltin(f *Factory) {
	f.Register("historical_replay", NewReplayProcessor)
}

// Recommendations generates the deterministic slate for [start, end].
func (p *ReplayProcessor) Recommendations(ctx context.Context, start, end time.Time) ([]Recommendation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var recs []Recommendation
	for day := start.Truncate(24 * time.Hour); !day.After(end); day = day.AddDate(0, 0, 1) {
		for g := 0; g < p.gamesPerDay; g++ {
			gameID := fmt.Sprintf("%s-%s-%d", p.seed, day.Format("20060102"), g)
			u := stableUnit(gameID)

			confidence := 0.50 + stableUnit(gameID+"/conf")*0.35
			odds := 1.70 + stableUnit(gameID+"/odds")*0.50
			winProb := 0.50 + p.edge*(confidence-0.50)/0.35

			recs = append(recs, Recommendation{
				GameID:     gameID,
				Market:     "moneyline",
				Selection:  "home",
				Confidence: confidence,
				Odds:       odds,
				Won:        u < winProb,
				GameDate:   day.Add(19 * time.Hour),
			})
		}
	}
	return recs, nil
}

// stableUnit maps a string to a stable value in [0, 1).
func stableUnit(s string) float64 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return float64(h.Sum32()%10000) / 10000.0
}

// numberParam reads a numeric parameter that may arrive as float64 (JSON)
// or int (code).
func numberParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
