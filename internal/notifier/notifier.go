// Package notifier provides notification channel implementations.
package notifier

import (
	"context"

	"github.com/snowflake-tools/credit-sentinel/internal/model"
)

// Notifier is the interface for delivering analysis reports to external
// channels.
type Notifier interface {
	// Send delivers the report to the notification channel.
	Send(ctx context.Context, report *model.Report) error

	// Name returns the name of the notifier.
	Name() string
}
