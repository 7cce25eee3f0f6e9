package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"emi-offers/internal/alerting"
)

// SimulateAbort sends a synthetic aborted-run notification so operators can
// check the alert channel without breaking a real sync.
func (a *App) SimulateAbort(ctx context.Context, stage, tradingDate string) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	note := alerting.Notification{
		RunID:       uuid.NewString(),
		At:          time.Now().UTC(),
		Stage:       stage,
		TradingDate: tradingDate,
		Err:         errors.New("simulated failure"),
	}
	if err := notifier.Notify(ctx, note); err != nil {
		return err
	}
	a.Logger.Info().Str("run_id", note.RunID).Msg("simulated abort notification sent")
	return nil
}
