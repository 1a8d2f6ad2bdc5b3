// worker follows the attendance event stream on Redis and logs each scan and
// enrollment outcome. It runs against EVENTS_BACKEND=redis.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"fingerattend/internal/attendance"
	"fingerattend/internal/config"
	"fingerattend/internal/logging"
	"fingerattend/internal/model"
	"fingerattend/internal/queue"
	"fingerattend/internal/registration"
	"fingerattend/internal/store"
)

func main() {
	if _, err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "reading .env failed:", err)
	}
	cfg := config.Load()
	logger, err := logging.NewLogger(cfg.ServiceName+"-worker", !cfg.Production())
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable yet, will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redisClient.Client, cfg.EventsRedisKey)
	messages := q.Consume(ctx, func(err error) {
		logger.Warn("consume failed", zap.Error(err))
	})

	logger.Info("worker started", zap.String("key", cfg.EventsRedisKey))
	var t tally
	for msg := range messages {
		if err := t.handle(logger, msg); err != nil {
			logger.Warn("skipping event", zap.String("id", msg.ID), zap.Error(err))
		}
	}
	t.report(logger)
}

// tally counts what the worker has seen since start.
type tally struct {
	logins, logouts int
	enrolled        int
}

func (t *tally) report(logger *zap.Logger) {
	logger.Info("worker stopped",
		zap.Int("logins", t.logins),
		zap.Int("logouts", t.logouts),
		zap.Int("enrolled", t.enrolled))
}

func (t *tally) handle(logger *zap.Logger, msg queue.Message) error {
	switch msg.Type {
	case queue.TypeScanRecorded:
		var evt attendance.ScanEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			return fmt.Errorf("decode scan: %w", err)
		}
		if evt.Status == model.StatusLogout {
			t.logouts++
		} else {
			t.logins++
		}
		logger.Info("scan",
			zap.String("student", evt.StudentName),
			zap.String("roll_no", evt.RollNo),
			zap.String("subject", evt.Subject),
			zap.String("status", string(evt.Status)),
			zap.Time("at", evt.At))
	case queue.TypeRegistrationReported:
		var evt registration.Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			return fmt.Errorf("decode registration: %w", err)
		}
		fields := []zap.Field{zap.String("state", string(evt.State))}
		if evt.FingerprintID != nil {
			fields = append(fields, zap.Int("fingerprint_id", *evt.FingerprintID))
		}
		if evt.State == registration.StateSuccess {
			t.enrolled++
			logger.Info("fingerprint enrolled", fields...)
		} else {
			logger.Warn("enrollment did not succeed", append(fields, zap.String("message", evt.Message))...)
		}
	default:
		logger.Debug("ignoring event", zap.String("type", msg.Type))
	}
	return nil
}
