package logging

// Canonical attribute keys. Using the constants keeps field names identical
// across every component's output.
const (
	// FieldComponent names the subsystem emitting the record.
	FieldComponent = "component"
	// FieldItemID is the queue item identifier.
	FieldItemID = "item_id"
	// FieldStage is the workflow stage name.
	FieldStage = "stage"
	// FieldLane is the workflow lane name.
	FieldLane = "lane"
	// FieldCorrelationID ties related records to a single request.
	FieldCorrelationID = "correlation_id"
	// FieldAlert marks records that should stand out when scanning logs.
	FieldAlert = "alert"
	// FieldEventType classifies log records for downstream filtering.
	FieldEventType = "event_type"
	// FieldErrorHint carries the operator-facing next step for a failure.
	FieldErrorHint = "error_hint"
	// FieldErrorKind is the classification of a stage failure.
	FieldErrorKind = "error_kind"
	// FieldErrorOperation names the operation that produced a failure.
	FieldErrorOperation = "error_operation"
	// FieldErrorCode carries a collaborator status code for a failure.
	FieldErrorCode = "error_code"
	// FieldPackage is the release package name.
	FieldPackage = "package"
	// FieldVersion is the release version string.
	FieldVersion = "version"
	// FieldEnvironment is the publish environment for a release.
	FieldEnvironment = "environment"
	// FieldRunID is the external CI run identifier.
	FieldRunID = "run_id"
)
