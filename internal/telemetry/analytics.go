// Package telemetry holds the fire-and-forget sinks the social engines report into:
// engagement analytics, haptic feedback and the current-user snapshot.
package telemetry

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Analytics receives engagement events. Implementations must not block and must not fail the caller.
type Analytics interface {
	TrackEngagement(name, label string, value float64)
}

// LogAnalytics writes engagement events to a logger.
type LogAnalytics struct {
	Log logrus.FieldLogger
}

func (a LogAnalytics) TrackEngagement(name, label string, value float64) {
	log := a.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{"event": name, "label": label, "value": value}).Debug("engagement")
}

// EngagementStream is the Redis stream that RedisAnalytics appends to.
const EngagementStream = "mysterybox:engagement"

// RedisAnalytics appends engagement events to a Redis stream in the background.
type RedisAnalytics struct {
	rdb     *redis.Client
	log     logrus.FieldLogger
	timeout time.Duration
}

// NewRedisAnalytics returns a sink publishing to EngagementStream.
func NewRedisAnalytics(rdb *redis.Client, log logrus.FieldLogger) *RedisAnalytics {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisAnalytics{rdb: rdb, log: log, timeout: 2 * time.Second}
}

func (a *RedisAnalytics) TrackEngagement(name, label string, value float64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		err := a.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: EngagementStream,
			MaxLen: 100000,
			Approx: true,
			Values: map[string]any{
				"name":  name,
				"label": label,
				"value": value,
				"ts":    time.Now().UnixMilli(),
			},
		}).Err()
		if err != nil {
			a.log.WithError(err).WithField("event", name).Warn("telemetry: failed publishing engagement event")
		}
	}()
}

// MultiAnalytics fans an event out to several sinks.
type MultiAnalytics []Analytics

func (m MultiAnalytics) TrackEngagement(name, label string, value float64) {
	for _, a := range m {
		a.TrackEngagement(name, label, value)
	}
}
