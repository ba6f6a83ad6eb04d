package ir

// Version constants for the data model and runtime.
const (
	// IRVersion is the data model schema version.
	IRVersion = "1"

	// EngineVersion is the flowrt runtime version.
	EngineVersion = "0.1.0"
)
