package transform

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/dunamismax/facefilter/internal/domain"
)

const (
	DefaultSimulatedLatency = 2 * time.Second
	simulatedSuccessRate    = 0.9
)

// Simulator stands in for the generative service. After a fixed latency it
// succeeds nine times out of ten, deriving the result URI from the input.
type Simulator struct {
	Latency time.Duration
	// Rand returns a value in [0,1). Results above 1-successRate succeed.
	Rand func() float64
}

func NewSimulator(latency time.Duration) *Simulator {
	return &Simulator{Latency: latency, Rand: rand.Float64}
}

func (s *Simulator) Name() string {
	return "simulator"
}

func (s *Simulator) Transform(ctx context.Context, call Call) (string, error) {
	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	roll := rand.Float64
	if s.Rand != nil {
		roll = s.Rand
	}
	if roll() <= 1-simulatedSuccessRate {
		return "", domain.NewError(domain.KindSimulation, "Simulated transformation failure.", nil)
	}
	return call.ImageURI + "?transformed=" + call.Filter.ID, nil
}
