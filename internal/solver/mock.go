package solver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

var ErrUnsolved = errors.New("captcha could not be solved")

type Request struct {
	WebsiteURL   string
	RecaptchaKey string
}

type Result struct {
	Solution      string
	InferenceTime time.Duration
}

// Solver represents the recognition backend.
type Solver interface {
	// Solve returns a solution token or an error when the challenge could not be answered.
	Solve(ctx context.Context, req Request) (*Result, error)
}

// MockSolver simulates a recognition backend with latency and a failure rate.
type MockSolver struct {
	// FailureRate is the probability of failure (0.0 to 1.0).
	FailureRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

func NewMockSolver() *MockSolver {
	return &MockSolver{
		FailureRate: 0.05,
		MinDelay:    50 * time.Millisecond,
		MaxDelay:    250 * time.Millisecond,
	}
}

func (s *MockSolver) Solve(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	delay := s.MinDelay
	if spread := s.MaxDelay - s.MinDelay; spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread)))
	}

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("solve canceled: %w", ctx.Err())
		}
	}

	if rand.Float64() < s.FailureRate {
		return nil, ErrUnsolved
	}

	return &Result{
		Solution:      "g_response_mock_" + uuid.NewString(),
		InferenceTime: time.Since(start),
	}, nil
}
