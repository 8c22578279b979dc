package csi

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
)

// Fading draws Rayleigh block-fading channel quality: each frame a user's
// instantaneous SNR is its mean SNR scaled by an exponential power gain and
// the estimate is log2(1 + snr) bits/s/Hz.
type Fading struct {
	mu       sync.Mutex
	rng      *rand.Rand
	meanSNR  []float64
	dropRate float64
}

// NewFading builds a seeded source. meanSNRdB holds one entry per user or a
// single entry for all users.
func NewFading(ues int, meanSNRdB []float64, seed uint64, dropRate float64) (*Fading, error) {
	if ues <= 0 {
		return nil, fmt.Errorf("%w: ues must be positive", ErrConfig)
	}
	if len(meanSNRdB) != ues && len(meanSNRdB) != 1 {
		return nil, fmt.Errorf("%w: %d mean snr entries for %d ues", ErrConfig, len(meanSNRdB), ues)
	}
	if dropRate < 0 || dropRate >= 1 {
		return nil, fmt.Errorf("%w: drop rate %v outside [0, 1)", ErrConfig, dropRate)
	}
	snr := make([]float64, ues)
	for u := range snr {
		db := meanSNRdB[0]
		if len(meanSNRdB) == ues {
			db = meanSNRdB[u]
		}
		snr[u] = math.Pow(10, db/10)
	}
	return &Fading{
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		meanSNR:  snr,
		dropRate: dropRate,
	}, nil
}

func (f *Fading) Estimate(ctx context.Context, frame uint64, dst []float64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := checkDst(dst, len(f.meanSNR)); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropRate > 0 && f.rng.Float64() < f.dropRate {
		return fmt.Errorf("%w: frame %d dropped", ErrUnavailable, frame)
	}
	for u, snr := range f.meanSNR {
		dst[u] = math.Log2(1 + snr*f.rng.ExpFloat64())
	}
	return nil
}
