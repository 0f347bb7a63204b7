package queue

import (
	"math"
	"math/rand"
)

// Дефолты retry-расписания.
const (
	DefaultRetryBaseDelaySeconds = 60
	DefaultRetryMaxDelaySeconds  = 900
)

// RetryScheduler вычисляет задержку перед следующей попыткой.
//
// Формула: min(base * 2^attempt, max) + jitter, где jitter равномерно
// распределён в [0, 0.1 * clamped). attempt — номер только что
// завершившейся попытки. Результат — целое число секунд.
type RetryScheduler struct {
	// BaseDelaySeconds — базовая задержка (секунды).
	BaseDelaySeconds int

	// MaxDelaySeconds — потолок экспоненты (секунды).
	MaxDelaySeconds int

	// rnd — источник jitter. Nil — глобальный math/rand.
	rnd *rand.Rand
}

// NewRetryScheduler создаёт scheduler с указанными base/max.
// Неположительные значения заменяются дефолтами.
func NewRetryScheduler(baseSeconds, maxSeconds int) *RetryScheduler {
	if baseSeconds <= 0 {
		baseSeconds = DefaultRetryBaseDelaySeconds
	}
	if maxSeconds <= 0 {
		maxSeconds = DefaultRetryMaxDelaySeconds
	}
	return &RetryScheduler{
		BaseDelaySeconds: baseSeconds,
		MaxDelaySeconds:  maxSeconds,
	}
}

// WithRand задаёт детерминированный источник jitter (для тестов).
func (s *RetryScheduler) WithRand(rnd *rand.Rand) *RetryScheduler {
	s.rnd = rnd
	return s
}

// DelayFor возвращает задержку в секундах перед попыткой attempt+1.
func (s *RetryScheduler) DelayFor(attempt int) int {
	delay := float64(s.BaseDelaySeconds) * math.Pow(2, float64(attempt))
	if delay > float64(s.MaxDelaySeconds) {
		delay = float64(s.MaxDelaySeconds)
	}

	jitter := s.float64() * delay * 0.1
	return int(delay + jitter)
}

func (s *RetryScheduler) float64() float64 {
	if s.rnd != nil {
		return s.rnd.Float64()
	}
	return rand.Float64()
}
