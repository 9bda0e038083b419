// Package metrics exposes runtime counters via expvar.
package metrics

import "expvar"

var (
	SensorTicks        = expvar.NewInt("sensor_ticks")
	SensorErrors       = expvar.NewInt("sensor_errors")
	TriggersRecorded   = expvar.NewInt("triggers_recorded")
	FieldsRegistered   = expvar.NewInt("fields_registered")
	BaseRefreshesTotal = expvar.NewInt("base_refreshes_total")
	RunsStarted        = expvar.NewInt("runs_started")
	RunsSucceeded      = expvar.NewInt("runs_succeeded")
	RunsFailed         = expvar.NewInt("runs_failed")
	RunsSkipped        = expvar.NewInt("runs_skipped")
	RunsCancelled      = expvar.NewInt("runs_cancelled")
	RunsCoalesced      = expvar.NewInt("runs_coalesced")
	RetriesScheduled   = expvar.NewInt("retries_scheduled")
	PublishesTotal     = expvar.NewInt("publishes_total")
	PublishConflicts   = expvar.NewInt("publish_conflicts")
	AlertsDispatched   = expvar.NewInt("alerts_dispatched")
	StuckRunsDetected  = expvar.NewInt("stuck_runs_detected")
	BaseAssetsStale    = expvar.NewInt("base_assets_stale")
)
