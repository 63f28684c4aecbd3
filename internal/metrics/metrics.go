package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	EventsReceived   atomic.Int64
	EventsStored     atomic.Int64
	EventsSkipped    atomic.Int64
	AlertsRaised     atomic.Int64
	AlertsSuppressed atomic.Int64
	NotifyFailures   atomic.Int64

	TelemetryReceived  atomic.Int64
	DBWriteSuccess     atomic.Int64
	DBWriteFailures    atomic.Int64
	DBChannelDrops     atomic.Int64
	StateChannelDrops  atomic.Int64
	StateWriteFailures atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "dms_events_received_total %d\n", EventsReceived.Load())
	fmt.Fprintf(w, "dms_events_stored_total %d\n", EventsStored.Load())
	fmt.Fprintf(w, "dms_events_skipped_total %d\n", EventsSkipped.Load())
	fmt.Fprintf(w, "dms_alerts_raised_total %d\n", AlertsRaised.Load())
	fmt.Fprintf(w, "dms_alerts_suppressed_total %d\n", AlertsSuppressed.Load())
	fmt.Fprintf(w, "dms_notify_failures_total %d\n", NotifyFailures.Load())
	fmt.Fprintf(w, "dms_telemetry_received_total %d\n", TelemetryReceived.Load())
	fmt.Fprintf(w, "dms_telemetry_db_write_success_total %d\n", DBWriteSuccess.Load())
	fmt.Fprintf(w, "dms_telemetry_db_write_failures_total %d\n", DBWriteFailures.Load())
	fmt.Fprintf(w, "dms_telemetry_db_channel_drops_total %d\n", DBChannelDrops.Load())
	fmt.Fprintf(w, "dms_telemetry_state_channel_drops_total %d\n", StateChannelDrops.Load())
	fmt.Fprintf(w, "dms_telemetry_state_write_failures_total %d\n", StateWriteFailures.Load())
}
