package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-spa/internal/notify"
)

// NewServeMux routes every task type the worker understands.
func NewServeMux(autoComplete AutoCompleteHandler, giftCards notify.GiftCardWorker) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TaskAutoComplete, autoComplete)
	mux.Handle(notify.TaskGiftCardEmail, giftCards)
	return mux
}

// Queues weights the worker's queues.
func Queues() map[string]int {
	return map[string]int{
		QueueCritical:       6,
		notify.QueueDefault: 3,
	}
}

// ErrorHandler logs failed task runs.
func ErrorHandler(logger zerolog.Logger) asynq.ErrorHandler {
	return asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
		logger.Error().Err(err).Str("task", task.Type()).Msg("task failed")
	})
}

// Logger adapts zerolog to asynq's logger interface.
type Logger struct {
	L zerolog.Logger
}

func (l Logger) Debug(args ...interface{}) { l.L.Debug().Msg(fmt.Sprint(args...)) }
func (l Logger) Info(args ...interface{})  { l.L.Info().Msg(fmt.Sprint(args...)) }
func (l Logger) Warn(args ...interface{})  { l.L.Warn().Msg(fmt.Sprint(args...)) }
func (l Logger) Error(args ...interface{}) { l.L.Error().Msg(fmt.Sprint(args...)) }
func (l Logger) Fatal(args ...interface{}) { l.L.Fatal().Msg(fmt.Sprint(args...)) }
