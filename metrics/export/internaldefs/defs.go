package internaldefs

import (
	goRealtime "github.com/MrEthical07/goRealtime"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   goRealtime.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   goRealtime.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: goRealtime.MetricConnectionOpened, Name: "gorealtime_connections_opened_total", Help: "Upgraded websocket connections."},
	{ID: goRealtime.MetricConnectionClosed, Name: "gorealtime_connections_closed_total", Help: "Closed websocket connections."},
	{ID: goRealtime.MetricAuthSuccess, Name: "gorealtime_auth_success_total", Help: "Successful authenticate handshakes."},
	{ID: goRealtime.MetricAuthFailure, Name: "gorealtime_auth_failure_total", Help: "Failed authenticate handshakes."},
	{ID: goRealtime.MetricTokenExpired, Name: "gorealtime_token_expired_total", Help: "Privileged messages rejected because the connection token expired."},
	{ID: goRealtime.MetricTokenNearExpiry, Name: "gorealtime_token_near_expiry_total", Help: "Near-expiry hints pushed to clients."},
	{ID: goRealtime.MetricRenewSuccess, Name: "gorealtime_renew_success_total", Help: "Accepted in-band token renewals."},
	{ID: goRealtime.MetricRenewFailure, Name: "gorealtime_renew_failure_total", Help: "Rejected in-band token renewals."},
	{ID: goRealtime.MetricRoomJoin, Name: "gorealtime_room_join_total", Help: "Authorized room joins."},
	{ID: goRealtime.MetricRoomJoinDenied, Name: "gorealtime_room_join_denied_total", Help: "Room joins rejected by a guard."},
	{ID: goRealtime.MetricRoomLeave, Name: "gorealtime_room_leave_total", Help: "Room leaves."},
	{ID: goRealtime.MetricBroadcastDelivered, Name: "gorealtime_broadcast_delivered_total", Help: "Frames queued to room members."},
	{ID: goRealtime.MetricBroadcastDropped, Name: "gorealtime_broadcast_dropped_total", Help: "Frames dropped on full send buffers."},
	{ID: goRealtime.MetricPermissionDenied, Name: "gorealtime_permission_denied_total", Help: "Privileged messages rejected by a role guard."},
	{ID: goRealtime.MetricForcedDisconnect, Name: "gorealtime_forced_disconnect_total", Help: "Server-forced closes."},
	{ID: goRealtime.MetricIssuerSuccess, Name: "gorealtime_issuer_success_total", Help: "Realtime tokens minted over HTTP."},
	{ID: goRealtime.MetricIssuerFailure, Name: "gorealtime_issuer_failure_total", Help: "Failed token issue requests."},
	{ID: goRealtime.MetricIssuerRateLimited, Name: "gorealtime_issuer_rate_limited_total", Help: "Throttled token issue requests."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goRealtime.MetricAuthLatency, Name: "gorealtime_auth_latency_seconds", Help: "Authenticate handling latency."},
}

// Names of series that do not come from the counter table.
const (
	AuditDroppedName     = "gorealtime_audit_dropped_total"
	AuditDroppedHelp     = "Dropped audit events due to dispatcher backpressure."
	ActiveConnectionName = "gorealtime_active_connections"
	ActiveConnectionHelp = "Currently open websocket connections."
)

// HistogramBounds are the upper bounds of the engine latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix renders HistogramBounds as instrument-name suffixes.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
