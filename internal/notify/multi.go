package notify

import (
	"context"
	"errors"

	"github.com/chriscow/livekit-call-agent/pkg/finalize"
)

// Multi fans a notification out to every notifier. All are attempted; the
// errors are joined.
type Multi []finalize.Notifier

func (m Multi) Notify(ctx context.Context, n finalize.Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
