package resilience

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
)

// Source is one open stream connection.
type Source[T any] interface {
	Next() (T, error)
	Close() error
}

// Opener opens a fresh connection.
type Opener[T any] func(ctx context.Context) (Source[T], error)

// Reconnect yields items from successive connections forever. Any error or
// clean end is logged and followed by delay before reopening. The sequence
// ends only when the consumer stops ranging or ctx is done.
func Reconnect[T any](ctx context.Context, name string, delay time.Duration, open Opener[T]) iter.Seq[T] {
	return func(yield func(T) bool) {
		log := obslog.For(ctx).With(zap.String("stream", name))
		for ctx.Err() == nil {
			src, err := open(ctx)
			if err != nil {
				logDrop(log, "stream_open_failed", err)
				if SleepContext(ctx, delay) != nil {
					return
				}
				continue
			}

			for {
				v, err := src.Next()
				if err != nil {
					_ = src.Close()
					if errors.Is(err, io.EOF) {
						log.Info("stream_ended")
					} else if ctx.Err() == nil {
						logDrop(log, "stream_dropped", err)
					}
					break
				}
				if !yield(v) {
					_ = src.Close()
					return
				}
			}

			if SleepContext(ctx, delay) != nil {
				return
			}
		}
	}
}

func logDrop(log *zap.Logger, msg string, err error) {
	if Classify(err) == KindTransient {
		log.Info(msg, zap.String("reason", "transient"), zap.Error(err))
		return
	}
	log.Warn(msg, zap.Error(err))
}
