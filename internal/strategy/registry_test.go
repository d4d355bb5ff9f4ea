package strategy

import (
	"testing"

	"upbit-trading-bot/internal/upbit"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, s := range []Strategy{
		NewBollingerBreakout(DefaultBollingerBreakoutConfig()),
		NewVolumeImpulse(DefaultVolumeImpulseConfig(), nil),
		NewRSIReversal(DefaultRSIReversalConfig()),
		NewEMACross(DefaultEMACrossConfig()),
		NewATRMomentum(DefaultATRMomentumConfig()),
	} {
		if err := r.Register(s); err != nil {
			t.Fatalf("Register(%s): %v", s.Name(), err)
		}
	}
	return r
}

func TestRegistryRegister(t *testing.T) {
	r := testRegistry(t)
	if err := r.Register(NewVolumeImpulse(DefaultVolumeImpulseConfig(), nil)); err == nil {
		t.Error("duplicate registration accepted")
	}

	if _, ok := r.Get("VOLUME_IMPULSE"); !ok {
		t.Error("registered strategy not found")
	}
	if _, ok := r.Get("NO_SUCH"); ok {
		t.Error("unknown name resolved")
	}
	if got := len(r.Names()); got != 5 {
		t.Errorf("names = %d, want 5", got)
	}
}

func TestRegistryEnabled(t *testing.T) {
	r := testRegistry(t)

	// Empty selection means everything, in name order
	all := r.Enabled(nil)
	if len(all) != 5 {
		t.Fatalf("enabled = %d, want all 5", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Name() >= all[i].Name() {
			t.Fatalf("selection not name-ordered: %s before %s", all[i-1].Name(), all[i].Name())
		}
	}

	subset := r.Enabled([]string{"VOLUME_IMPULSE", "EMA_CROSS", "NO_SUCH"})
	if len(subset) != 2 {
		t.Fatalf("subset = %d, want 2 with the unknown name dropped", len(subset))
	}
	if subset[0].Name() != "EMA_CROSS" || subset[1].Name() != "VOLUME_IMPULSE" {
		t.Errorf("subset order: %s, %s", subset[0].Name(), subset[1].Name())
	}
}

func TestChronological(t *testing.T) {
	newest := []upbit.Candle{{Close: 3}, {Close: 2}, {Close: 1}}
	chron := Chronological(newest)
	for i, want := range []float64{1, 2, 3} {
		if chron[i].Close != want {
			t.Fatalf("chron[%d] = %f, want %f", i, chron[i].Close, want)
		}
	}
	// Input untouched
	if newest[0].Close != 3 {
		t.Error("Chronological mutated its input")
	}
	if len(Chronological(nil)) != 0 {
		t.Error("nil window should yield an empty copy")
	}
}
