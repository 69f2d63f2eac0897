package pipeline

import "fmt"

// Stage identifies a step of the pipeline. Stages advance strictly in
// order; a StageError names the stage that failed.
type Stage string

const (
	StageReceived           Stage = "received"
	StageNormalized         Stage = "normalized"
	StageDetected           Stage = "detected"
	StageLanguageIdentified Stage = "language_identified"
	StageRecognized         Stage = "recognized"
	StageExtracted          Stage = "extracted"
	StageComplete           Stage = "complete"
)

// StageError reports a pipeline failure together with the stage that
// failed. A stage timeout is reported the same way as any other failure of
// that stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline failed at stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func failedAt(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}
