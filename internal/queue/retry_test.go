package queue

import (
	"math/rand"
	"testing"
)

func TestDelayFor_WithinJitterBounds(t *testing.T) {
	s := NewRetryScheduler(60, 900).WithRand(rand.New(rand.NewSource(42)))

	cases := []struct {
		attempt int
		clamped int
	}{
		{0, 60},
		{1, 120},
		{2, 240},
		{3, 480},
		{4, 900}, // 960 упирается в потолок
		{10, 900},
	}

	for _, tc := range cases {
		for i := 0; i < 100; i++ {
			d := s.DelayFor(tc.attempt)
			if d < tc.clamped || float64(d) > 1.1*float64(tc.clamped) {
				t.Fatalf("DelayFor(%d) = %d, want within [%d, %.0f]",
					tc.attempt, d, tc.clamped, 1.1*float64(tc.clamped))
			}
		}
	}
}

func TestDelayFor_SmallBase(t *testing.T) {
	s := NewRetryScheduler(1, 10).WithRand(rand.New(rand.NewSource(7)))

	if d := s.DelayFor(0); d < 1 || d > 2 {
		t.Errorf("DelayFor(0) = %d, want 1 (jitter truncates to int)", d)
	}
	if d := s.DelayFor(5); d < 10 || d > 11 {
		t.Errorf("DelayFor(5) = %d, want clamped to 10", d)
	}
}

func TestNewRetryScheduler_Defaults(t *testing.T) {
	s := NewRetryScheduler(0, -5)
	if s.BaseDelaySeconds != DefaultRetryBaseDelaySeconds {
		t.Errorf("base = %d, want default", s.BaseDelaySeconds)
	}
	if s.MaxDelaySeconds != DefaultRetryMaxDelaySeconds {
		t.Errorf("max = %d, want default", s.MaxDelaySeconds)
	}
}
