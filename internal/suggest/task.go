package suggest

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/arkastore/backend-promo/internal/events"
	"github.com/arkastore/backend-promo/internal/obs"
)

// TaskGenerate is the asynq task type for draft generation runs.
const TaskGenerate = "suggest:generate"

// NewGenerateTask builds the generation task. Generation reads only
// aggregates, so the task carries no payload.
func NewGenerateTask() *asynq.Task {
	return asynq.NewTask(TaskGenerate, nil, asynq.MaxRetry(3))
}

// Worker processes generation tasks: it runs the heuristics, persists the
// surviving drafts and announces each one on the event bus.
type Worker struct {
	Generator *Generator
	Store     Store
	Bus       *events.Bus
	Log       zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (w *Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if w == nil || w.Generator == nil || w.Store == nil {
		return errors.New("suggest: worker not configured")
	}
	if t.Type() != TaskGenerate {
		return fmt.Errorf("suggest: unexpected task type %q", t.Type())
	}
	drafts, err := w.Generator.Generate(ctx)
	if err != nil {
		return err
	}
	for i := range drafts {
		d := &drafts[i]
		if err := w.Store.InsertDraft(ctx, d); err != nil {
			return err
		}
		if obs.SuggestionDraftsTotal != nil && len(d.Promotion.Actions) > 0 {
			obs.SuggestionDraftsTotal.WithLabelValues(string(d.Promotion.Actions[0].Type)).Inc()
		}
		if w.Bus != nil {
			if _, err := w.Bus.Emit(ctx, events.TopicSuggestionDrafted, d.ID, map[string]any{
				"reason": d.Reason,
				"name":   d.Promotion.Name,
			}); err != nil {
				w.Log.Warn().Err(err).Msg("suggestion event emit failed")
			}
		}
	}
	w.Log.Info().Int("drafts", len(drafts)).Msg("suggestion generation finished")
	return nil
}
