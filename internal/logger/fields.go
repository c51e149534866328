package logger

// Log field names used across the service.
const (
	FieldRequestID = "requestId"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldDuration  = "duration"
	FieldRemote    = "remote"

	FieldOutcome   = "outcome"
	FieldPrimaryID = "primaryContactId"
	FieldLinkedIDs = "linkedContactIds"
)
