// Package alert delivers service-down notifications over email and
// WhatsApp Web.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/clalos/dashwatch/internal/registry"
)

// TimeLayout formats timestamps in alert text.
const TimeLayout = "2006-01-02 15:04:05"

// Delivery reports what a dispatcher did for one notification.
type Delivery struct {
	// Attempted is true when at least one recipient was handed to the
	// transport.
	Attempted  bool
	Recipients []string
}

// Dispatcher sends DOWN notifications on one channel. NotifyDown never
// returns an error: failures are logged and reflected in the Delivery.
type Dispatcher interface {
	Channel() string
	NotifyDown(ctx context.Context, service registry.Identity, targets registry.Targets) Delivery
}

// Message is the short alert text shared by every channel.
func Message(service string, at time.Time) string {
	return fmt.Sprintf("ALERT: Service Down - %s\nTime: %s", service, at.Format(TimeLayout))
}
