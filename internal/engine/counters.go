package engine

import (
	"fmt"
	"io"
	"sync/atomic"
)

// Counters holds the engine's operational statistics. One instance is owned
// by the engine it was injected into; nothing here is package-global.
type Counters struct {
	PositionReports   atomic.Int64
	PositionRejected  atomic.Int64
	DeviationsOpened  atomic.Int64
	YellowWarnings    atomic.Int64
	RedWarnings       atomic.Int64
	BackOnRouteCloses atomic.Int64
	ManualResolutions atomic.Int64
	IncidentsCreated  atomic.Int64
	SweepRuns         atomic.Int64
	SweepErrors       atomic.Int64
	NotificationsSent atomic.Int64
	NotificationDrops atomic.Int64
	NotificationFails atomic.Int64
}

// WritePlaintext renders the counters in the text exposition format served
// by the /metrics endpoint.
func (c *Counters) WritePlaintext(w io.Writer) {
	fmt.Fprintf(w, "deviation_position_reports_total %d\n", c.PositionReports.Load())
	fmt.Fprintf(w, "deviation_position_rejected_total %d\n", c.PositionRejected.Load())
	fmt.Fprintf(w, "deviation_records_opened_total %d\n", c.DeviationsOpened.Load())
	fmt.Fprintf(w, "deviation_yellow_warnings_total %d\n", c.YellowWarnings.Load())
	fmt.Fprintf(w, "deviation_red_warnings_total %d\n", c.RedWarnings.Load())
	fmt.Fprintf(w, "deviation_back_on_route_total %d\n", c.BackOnRouteCloses.Load())
	fmt.Fprintf(w, "deviation_manual_resolutions_total %d\n", c.ManualResolutions.Load())
	fmt.Fprintf(w, "deviation_incidents_created_total %d\n", c.IncidentsCreated.Load())
	fmt.Fprintf(w, "deviation_sweep_runs_total %d\n", c.SweepRuns.Load())
	fmt.Fprintf(w, "deviation_sweep_errors_total %d\n", c.SweepErrors.Load())
	fmt.Fprintf(w, "deviation_notifications_sent_total %d\n", c.NotificationsSent.Load())
	fmt.Fprintf(w, "deviation_notification_drops_total %d\n", c.NotificationDrops.Load())
	fmt.Fprintf(w, "deviation_notification_failures_total %d\n", c.NotificationFails.Load())
}
