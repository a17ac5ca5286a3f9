package myaudio

import (
	"encoding/binary"
	"math"
)

// SilenceDBFS is the floor reported for silent or empty buffers.
const SilenceDBFS = -160.0

// Level is one metering sample taken from captured PCM.
type Level struct {
	DBFS     float64 `json:"dbfs"`     // RMS level relative to full scale, SilenceDBFS..0
	Percent  int     `json:"percent"`  // 0-100 for bar displays
	Clipping bool    `json:"clipping"` // a sample hit the 16-bit limit
}

// CalculateLevel computes the RMS level of little-endian 16-bit samples.
func CalculateLevel(samples []byte) Level {
	if len(samples)%2 != 0 {
		samples = samples[:len(samples)-1]
	}
	sampleCount := len(samples) / 2
	if sampleCount == 0 {
		return Level{DBFS: SilenceDBFS}
	}

	var sum float64
	clipping := false
	for i := 0; i < len(samples); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(samples[i : i+2]))
		v := float64(sample)
		sum += v * v
		if sample == math.MaxInt16 || sample == math.MinInt16 {
			clipping = true
		}
	}

	rms := math.Sqrt(sum / float64(sampleCount))
	if rms == 0 {
		return Level{DBFS: SilenceDBFS}
	}

	db := 20 * math.Log10(rms/32768.0)
	if db < SilenceDBFS {
		db = SilenceDBFS
	}

	// -60 dBFS maps to 0, -10 dBFS and above to 100
	scaled := (db + 60) * (100.0 / 50.0)
	if clipping {
		scaled = math.Max(scaled, 95)
	}
	scaled = math.Max(0, math.Min(100, scaled))

	return Level{
		DBFS:     db,
		Percent:  int(scaled),
		Clipping: clipping,
	}
}
