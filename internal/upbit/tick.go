package upbit

import "math"

// tickLadder maps price floors to tick sizes for the KRW market
var tickLadder = []struct {
	floor float64
	tick  float64
}{
	{2_000_000, 1000},
	{1_000_000, 500},
	{500_000, 100},
	{100_000, 50},
	{10_000, 10},
	{1_000, 5},
	{100, 1},
	{10, 0.1},
	{1, 0.01},
	{0, 0.001},
}

// TickSize returns the KRW tick size for the price band containing price
func TickSize(price float64) float64 {
	for _, band := range tickLadder {
		if price >= band.floor {
			return band.tick
		}
	}
	return 0.001
}

// TickPrice rounds a limit price down to the exchange tick ladder. The result
// never exceeds the requested price.
func TickPrice(price float64) float64 {
	if price <= 0 {
		return 0
	}
	tick := TickSize(price)
	return math.Floor(price/tick) * tick
}
