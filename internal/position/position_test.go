package position

import (
	"testing"

	"upbit-trading-bot/internal/strategy"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusPending, StatusEntering, true},
		{StatusPending, StatusClosed, true},
		{StatusPending, StatusActive, false},
		{StatusEntering, StatusActive, true},
		{StatusEntering, StatusPending, true},
		{StatusEntering, StatusFailed, true},
		{StatusActive, StatusEntering, true},
		{StatusActive, StatusExiting, true},
		{StatusActive, StatusClosed, false},
		{StatusExiting, StatusClosed, true},
		{StatusExiting, StatusActive, true},
		{StatusClosed, StatusPending, false},
		{StatusClosed, StatusActive, false},
		{StatusFailed, StatusActive, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanEnter(t *testing.T) {
	tests := []struct {
		name   string
		status string
		phase  int
		want   bool
	}{
		{"active phase 1", StatusActive, 1, true},
		{"active phase 2", StatusActive, 2, true},
		{"active phase 3 exhausted", StatusActive, 3, false},
		{"entering phase 1", StatusEntering, 1, true},
		{"pending", StatusPending, 0, false},
		{"exiting", StatusExiting, 1, false},
		{"closed", StatusClosed, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Position{Status: tt.status, EntryPhase: tt.phase}
			if got := p.CanEnter(); got != tt.want {
				t.Errorf("CanEnter = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProfitRate(t *testing.T) {
	p := &Position{AvgEntryPrice: 100}
	if got := p.ProfitRate(105); got != 0.05 {
		t.Errorf("ProfitRate(105) = %f, want 0.05", got)
	}
	if got := p.ProfitRate(90); got != -0.1 {
		t.Errorf("ProfitRate(90) = %f, want -0.1", got)
	}
	empty := &Position{}
	if got := empty.ProfitRate(100); got != 0 {
		t.Errorf("ProfitRate with no entry = %f, want 0", got)
	}
}

func TestView(t *testing.T) {
	p := &Position{Status: StatusActive, AvgEntryPrice: 100, Quantity: 2, HighestPrice: 110}
	v := p.View(5)
	if v == nil {
		t.Fatal("View returned nil for an open position")
	}
	if v.AvgEntryPrice != 100 || v.Quantity != 2 || v.HighestPrice != 110 || v.BarsHeld != 5 {
		t.Errorf("unexpected view %+v", v)
	}

	closed := &Position{Status: StatusClosed, Quantity: 2}
	if closed.View(1) != nil {
		t.Error("View should be nil for a closed position")
	}
	var nilPos *Position
	if nilPos.View(1) != nil {
		t.Error("View should be nil for a nil position")
	}
}

func TestCheckInvariants(t *testing.T) {
	trailing := 90.0
	lowTrailing := 50.0
	tests := []struct {
		name    string
		pos     Position
		wantErr bool
	}{
		{"healthy", Position{Quantity: 1, TotalInvested: 100, AvgEntryPrice: 100, HighestPrice: 110}, false},
		{"negative quantity", Position{Quantity: -1}, true},
		{"negative invested", Position{TotalInvested: -1}, true},
		{"highest below entry", Position{AvgEntryPrice: 100, HighestPrice: 90}, true},
		{"trailing below hard stop", Position{StopLossPrice: 80, TrailingStopPrice: &lowTrailing}, true},
		{"trailing above hard stop", Position{AvgEntryPrice: 85, HighestPrice: 95, StopLossPrice: 80, TrailingStopPrice: &trailing}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pos.CheckInvariants()
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckInvariants = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEvaluateExitOrder(t *testing.T) {
	trailing := 95.0
	base := Position{
		AvgEntryPrice:     100,
		Quantity:          1,
		StopLossPrice:     90,
		TrailingStopPrice: &trailing,
	}

	tests := []struct {
		name       string
		check      ExitCheck
		wantExit   bool
		wantReason strategy.ExitReason
	}{
		{
			"hard stop wins over everything",
			ExitCheck{Price: 89, SellQuorum: true, QuorumReason: strategy.ExitTakeProfit, MaxLossRate: -0.05},
			true, strategy.ExitStopLossFixed,
		},
		{
			"trailing beats quorum",
			ExitCheck{Price: 94, SellQuorum: true, QuorumReason: strategy.ExitTakeProfit},
			true, strategy.ExitTrailingStop,
		},
		{
			"quorum fires above both stops",
			ExitCheck{Price: 98, SellQuorum: true, QuorumReason: strategy.ExitOverheated},
			true, strategy.ExitOverheated,
		},
		{
			"quorum without reason defaults",
			ExitCheck{Price: 98, SellQuorum: true},
			true, strategy.ExitSignalInvalid,
		},
		{
			"no trigger",
			ExitCheck{Price: 98, MaxLossRate: -0.05},
			false, "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			exit, reason := p.EvaluateExit(tt.check)
			if exit != tt.wantExit || reason != tt.wantReason {
				t.Errorf("EvaluateExit = (%v, %s), want (%v, %s)", exit, reason, tt.wantExit, tt.wantReason)
			}
		})
	}

	t.Run("max loss floor without stops", func(t *testing.T) {
		p := Position{AvgEntryPrice: 100, Quantity: 1}
		exit, reason := p.EvaluateExit(ExitCheck{Price: 94, MaxLossRate: -0.05})
		if !exit || reason != strategy.ExitStopLossFixed {
			t.Errorf("EvaluateExit = (%v, %s), want max-loss stop", exit, reason)
		}
	})
}
