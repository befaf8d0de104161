package ir

// Version constants.
const (
	// IRVersion is the schema version of the serialized target graph.
	IRVersion = "1"

	// EngineVersion is the lowerkit engine version.
	EngineVersion = "0.1.0"

	// MinOpset and MaxOpset bound the target versions the engine knows about.
	MinOpset = 1
	MaxOpset = 21

	// DefaultOpset is used when neither a flag nor a description file sets one.
	DefaultOpset = 11
)
