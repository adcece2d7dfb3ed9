package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ranked-posts/internal/core/ports"
)

// RateLimiterConfig is the single mutation policy applied to every subject.
type RateLimiterConfig struct {
	DefaultRequestsPerMinute int
	BurstMultiplier          float64
	Window                   time.Duration
	KeyPrefix                string
}

// RateLimiterService admits up to limit*burst requests per subject in each window.
type RateLimiterService struct {
	repo   ports.RateLimitRepository
	cfg    RateLimiterConfig
	logger *logrus.Logger
}

var _ ports.RateLimiterService = (*RateLimiterService)(nil)

func NewRateLimiterService(repo ports.RateLimitRepository, cfg *RateLimiterConfig, logger *logrus.Logger) *RateLimiterService {
	c := RateLimiterConfig{
		DefaultRequestsPerMinute: 60,
		BurstMultiplier:          2.0,
		Window:                   time.Minute,
		KeyPrefix:                "ratelimit:principal",
	}
	if cfg != nil {
		if cfg.DefaultRequestsPerMinute > 0 {
			c.DefaultRequestsPerMinute = cfg.DefaultRequestsPerMinute
		}
		if cfg.BurstMultiplier > 0 {
			c.BurstMultiplier = cfg.BurstMultiplier
		}
		if cfg.Window > 0 {
			c.Window = cfg.Window
		}
		if cfg.KeyPrefix != "" {
			c.KeyPrefix = cfg.KeyPrefix
		}
	}
	return &RateLimiterService{repo: repo, cfg: c, logger: logger}
}

func (s *RateLimiterService) burst() int {
	return int(float64(s.cfg.DefaultRequestsPerMinute) * s.cfg.BurstMultiplier)
}

func (s *RateLimiterService) Allow(ctx context.Context, subject string) (ports.RateDecision, error) {
	// counters outlive their window by one so late increments still land
	count, start, err := s.repo.IncrementWindow(ctx, subject, s.cfg.Window, s.cfg.KeyPrefix, 2*s.cfg.Window)
	d := ports.RateDecision{
		Allowed:   true,
		Remaining: s.burst(),
		Limit:     s.cfg.DefaultRequestsPerMinute,
		Reset:     start.Add(s.cfg.Window),
	}
	if err != nil {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"subject": subject}).WithError(err).Error("rate limiter: counter unavailable")
		}
		return d, err
	}

	d.Remaining -= count
	if d.Remaining < 0 {
		d.Allowed, d.Remaining = false, 0
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"subject": subject, "count": count}).Info("rate limiter: subject throttled")
		}
	}
	return d, nil
}
