package strategy

import (
	"upbit-trading-bot/internal/logging"
	"upbit-trading-bot/internal/upbit"
)

// Vote records how one strategy voted during an aggregation, for audit
type Vote struct {
	Strategy string
	Action   Action
	Err      error
}

// Tally is the aggregated outcome of one evaluation round
type Tally struct {
	Action       Action
	BuyVotes     int
	SellVotes    int
	Participants int // Strategies that evaluated without error
	Threshold    int // Votes required for a quorum
	Votes        []Vote
	ExitReason   ExitReason // From the first sell voter, when Action is Sell
	ZScore       float64    // From the first buy voter's scratch
	ExecutionStrength float64
}

// Aggregator runs the enabled strategies over a window and resolves their
// votes by strict majority. A failing strategy is excluded from both the
// tally and the denominator.
type Aggregator struct {
	strategies []Strategy
	logger     *logging.Logger
}

// NewAggregator creates an aggregator over a fixed enabled set
func NewAggregator(strategies []Strategy, logger *logging.Logger) *Aggregator {
	if logger == nil {
		logger = logging.WithComponent("aggregator")
	}
	return &Aggregator{strategies: strategies, logger: logger}
}

// MinWindow returns the largest window any member strategy requires, floored
// at the aggregate minimum of 100 bars.
func (a *Aggregator) MinWindow() int {
	min := 100
	for _, s := range a.strategies {
		if s.MinWindow() > min {
			min = s.MinWindow()
		}
	}
	return min
}

// Strategies returns the enabled set
func (a *Aggregator) Strategies() []Strategy { return a.strategies }

// Evaluate runs the live path for every strategy and tallies the votes.
// holding tells the vote resolution whether a position is open.
func (a *Aggregator) Evaluate(market string, window []upbit.Candle, holding bool) Tally {
	votes := make([]Vote, 0, len(a.strategies))
	for _, s := range a.strategies {
		sig, err := s.Analyze(market, window)
		if err != nil {
			a.logger.Warn("strategy failed, excluded from tally",
				"market", market, "strategy", s.Name(), "error", err)
			votes = append(votes, Vote{Strategy: s.Name(), Err: err})
			continue
		}
		votes = append(votes, Vote{Strategy: s.Name(), Action: sig.Action})
	}
	return a.resolve(votes, nil, holding)
}

// EvaluateBacktest runs the pure path for every strategy and tallies the
// votes; scratches carry exit reasons and entry metrics out per strategy.
func (a *Aggregator) EvaluateBacktest(market string, window []upbit.Candle, pos *PositionView) Tally {
	votes := make([]Vote, 0, len(a.strategies))
	scratches := make([]*Scratch, 0, len(a.strategies))
	for _, s := range a.strategies {
		scratch := &Scratch{}
		sig, err := s.AnalyzeForBacktest(market, window, pos, scratch)
		if err != nil {
			votes = append(votes, Vote{Strategy: s.Name(), Err: err})
			scratches = append(scratches, nil)
			continue
		}
		votes = append(votes, Vote{Strategy: s.Name(), Action: sig.Action})
		scratches = append(scratches, scratch)
	}
	return a.resolve(votes, scratches, pos.Holding())
}

// resolve applies the strict-majority rule over the recorded votes
func (a *Aggregator) resolve(votes []Vote, scratches []*Scratch, holding bool) Tally {
	tally := Tally{Action: ActionHold, Votes: votes}

	for i, v := range votes {
		if v.Err != nil {
			continue
		}
		tally.Participants++
		switch v.Action {
		case ActionBuy:
			tally.BuyVotes++
			if scratches != nil && scratches[i] != nil && tally.ZScore == 0 {
				tally.ZScore = scratches[i].ZScore
				tally.ExecutionStrength = scratches[i].ExecutionStrength
			}
		case ActionSell:
			tally.SellVotes++
			if scratches != nil && scratches[i] != nil && tally.ExitReason == "" {
				tally.ExitReason = scratches[i].ExitReason
			}
		}
	}

	if tally.Participants == 0 {
		return tally
	}
	tally.Threshold = tally.Participants/2 + 1

	switch {
	case !holding && tally.BuyVotes >= tally.Threshold:
		tally.Action = ActionBuy
	case holding && tally.SellVotes >= tally.Threshold:
		tally.Action = ActionSell
	}
	return tally
}
