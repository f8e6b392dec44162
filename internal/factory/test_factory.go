package factory

import (
	"context"
	"time"

	busmemory "github.com/mcoot/typerace/internal/bus/memory"
	"github.com/mcoot/typerace/internal/dependencies/mocks"
	"github.com/mcoot/typerace/internal/storage/memory"
)

// TestPassages is the passage pool loaded by LoadTestPassages
var TestPassages = []string{"the quick brown fox jumps over the lazy dog"}

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
}

// NewTestApp creates an App on in-memory backends with mocked time and randomness
func NewTestApp(cfg Config) *TestApp {
	cfg = cfg.withDefaults()

	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()

	app := newWithDependencies(memory.New(), busmemory.New(cfg.Logger), nil, mockClock, mockRandom, cfg, cfg.Logger)

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
	}
}

// LoadTestPassages loads a single known passage so races are deterministic
func (t *TestApp) LoadTestPassages(ctx context.Context) error {
	return t.Passages.LoadPassages(ctx, TestPassages)
}
