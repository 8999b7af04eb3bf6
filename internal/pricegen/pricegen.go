// Package pricegen synthesizes deterministic intra-bar prices for
// simulated live quotes. Given identical inputs the output is bit-for-bit
// identical across calls and process restarts, so simulated feeds are
// reproducible for debugging and testing.
package pricegen

import (
	"encoding/binary"
	"hash/fnv"

	"invest-sim-lab/internal/domain"
)

// noiseFraction bounds the noise amplitude to a share of the bar's
// high-low range.
const noiseFraction = 0.15

// Price maps a candle and a simulated timestamp to an intra-bar price.
// It interpolates linearly between open and close by the elapsed fraction
// of one bar (clamped to [0,1]), adds bounded noise derived from a seeded
// hash of (seed, symbol, candle ts, simNowMs), and clamps the result back
// into [low, high].
func Price(c *domain.Candle, simNowMs int64, symbol string, seed uint64) float64 {
	barMs := c.Timeframe.DurationMs()

	frac := 0.0
	if barMs > 0 {
		frac = float64(simNowMs-c.Ts) / float64(barMs)
	}
	frac = clamp(frac, 0, 1)

	price := c.Open + (c.Close-c.Open)*frac
	price += noiseUnit(seed, symbol, c.Ts, simNowMs) * noiseFraction * (c.High - c.Low)

	return clamp(price, c.Low, c.High)
}

// noiseUnit hashes the inputs into a deterministic value in [-1, 1).
func noiseUnit(seed uint64, symbol string, candleTs, simNowMs int64) float64 {
	h := fnv.New64a()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	h.Write(buf[:])
	h.Write([]byte(symbol))
	binary.LittleEndian.PutUint64(buf[:], uint64(candleTs))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(simNowMs))
	h.Write(buf[:])

	// Top 53 bits give a uniform float64 in [0,1) without rounding bias.
	unit := float64(h.Sum64()>>11) / float64(1<<53)
	return unit*2 - 1
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
