package normalize

import (
	"fmt"

	"vertex-audit/pkg/events"
)

// Humanize renders one event as a display sentence.
func Humanize(e events.LogEvent) string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("%s from %s triggered %s.", or(e.User, events.UnknownUser), or(e.IP, events.UnknownIP), or(e.Event, events.EventUnknown))
}
