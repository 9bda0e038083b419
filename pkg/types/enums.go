package types

// IndexKind selects which spectral index a partitioned asset computes.
type IndexKind string

// IndexKind values enumerate the supported spectral indices.
const (
	IndexNDVI IndexKind = "ndvi"
	IndexNDMI IndexKind = "ndmi"
)

// AllIndexKinds lists every supported index kind in a stable order.
func AllIndexKinds() []IndexKind {
	return []IndexKind{IndexNDVI, IndexNDMI}
}

// ValidIndexKind reports whether k names a supported index.
func ValidIndexKind(k IndexKind) bool {
	switch k {
	case IndexNDVI, IndexNDMI:
		return true
	}
	return false
}

// RunStatus represents the lifecycle state of a materialization run.
type RunStatus string

// RunStatus values represent the lifecycle states of a run.
const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
	RunSkipped   RunStatus = "SKIPPED"
	RunCancelled RunStatus = "CANCELLED"
)

// TriggerKind classifies what a sensor detected.
type TriggerKind string

// TriggerKind values enumerate the upstream change kinds sensors emit.
const (
	TriggerBBox   TriggerKind = "bbox"
	TriggerFields TriggerKind = "fields"
)

// FailureCategory classifies why a run attempt or publish failed.
type FailureCategory string

const (
	FailureTransient          FailureCategory = "TRANSIENT"
	FailurePermanent          FailureCategory = "PERMANENT"
	FailureTimeout            FailureCategory = "TIMEOUT"
	FailureDataUnavailable    FailureCategory = "DATA_UNAVAILABLE"
	FailureDependencyNotReady FailureCategory = "DEPENDENCY_NOT_READY"
	FailureValidation         FailureCategory = "VALIDATION"
	FailurePublishConflict    FailureCategory = "PUBLISH_CONFLICT"
)

// AlertType defines the alert sink type.
type AlertType string

// AlertType values enumerate the supported alert sink backends.
const (
	AlertConsole AlertType = "console"
	AlertWebhook AlertType = "webhook"
	AlertFile    AlertType = "file"
)

// AlertLevel classifies alert severity.
type AlertLevel string

const (
	AlertLevelError   AlertLevel = "error"
	AlertLevelWarning AlertLevel = "warning"
	AlertLevelInfo    AlertLevel = "info"
)
