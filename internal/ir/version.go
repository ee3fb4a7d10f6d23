package ir

// Version constants for the log format and the merge engine.
const (
	// LogVersion is the operation record format version.
	LogVersion = "1"

	// EngineVersion is the rowmerge engine version.
	EngineVersion = "0.1.0"
)
