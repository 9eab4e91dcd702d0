package inference

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

var mockClassifications = []string{"class1", "class2", "class3"}

// MockEngine is a stand-in engine that fabricates detections, used
// until a real inference implementation is integrated and for
// end-to-end exercises against a live broker.
type MockEngine struct {
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand

	// simulateLatency adds a randomized processing delay so the
	// service's timing behavior resembles real inference.
	simulateLatency bool
}

// NewMockEngine creates a mock engine with randomized output.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		logger:          slog.Default().With("component", "inference.mock"),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		simulateLatency: true,
	}
}

// NewMockEngineWithSeed creates a deterministic mock engine without
// simulated latency. Intended for tests.
func NewMockEngineWithSeed(seed int64) *MockEngine {
	return &MockEngine{
		logger: slog.Default().With("component", "inference.mock"),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Process fabricates zero to five detections for the given path.
func (m *MockEngine) Process(ctx context.Context, path string) ([]Detection, error) {
	m.logger.Info("mock inference processing", "path", path)

	m.mu.Lock()
	count := m.rng.Intn(6)
	detections := make([]Detection, 0, count)
	for i := 0; i < count; i++ {
		x1 := 0.05 + 0.90*m.rng.Float64()
		y1 := 0.05 + 0.90*m.rng.Float64()
		width := 0.05 + 0.25*m.rng.Float64()
		height := 0.05 + 0.25*m.rng.Float64()

		det := Detection{
			Classification: mockClassifications[m.rng.Intn(len(mockClassifications))],
			Confidence:     0.3 + 0.69*m.rng.Float64(),
			Box: BoundingBox{
				X1: x1,
				Y1: y1,
				X2: min(1.0, x1+width),
				Y2: min(1.0, y1+height),
			},
		}
		// Roughly half the detections produce a chip artifact.
		if m.rng.Intn(2) == 0 {
			det.OutputFilePath = fmt.Sprintf("/output/chips/chip_%04d.nitf", m.rng.Intn(10000))
		}
		detections = append(detections, det)
	}
	var delay time.Duration
	if m.simulateLatency {
		delay = time.Duration(100+m.rng.Intn(400)) * time.Millisecond
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.logger.Info("mock inference complete", "path", path, "detections", len(detections))
	return detections, nil
}
