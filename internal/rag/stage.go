package rag

// Stage is a step of the query lifecycle.
type Stage string

const (
	StageReceived   Stage = "RECEIVED"
	StageRetrieving Stage = "RETRIEVING"
	StageAssembling Stage = "ASSEMBLING"
	StageGenerating Stage = "GENERATING"
	StageRecording  Stage = "RECORDING"
	StageComplete   Stage = "COMPLETE"
	// StageError is reached only from StageGenerating.
	StageError Stage = "ERROR"
)

// query outcomes reported to the Observer
const (
	OutcomeOK               = "ok"
	OutcomeInvalid          = "invalid"
	OutcomeSessionError     = "session_error"
	OutcomeGenerationFailed = "generation_failed"
)
