package recorder

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionActive is returned when starting a session while another
	// one is still active (including while it is being finalized).
	ErrSessionActive = errors.New("a recording session is already active")

	ErrNotRecording    = errors.New("not recording")
	ErrNotPaused       = errors.New("recording is not paused")
	ErrAlreadyPaused   = errors.New("recording is already paused")
	ErrInvalidSettings = errors.New("invalid settings")
)

// StartStage is the step of session start that failed.
type StartStage string

const (
	StageSettings StartStage = "settings"
	StageFolder   StartStage = "folder"
	StageRegion   StartStage = "region"
	StageCapture  StartStage = "capture"
	StageVideo    StartStage = "video"
)

// StartError is returned by Start when the session could not be started.
type StartError struct {
	Stage StartStage
	Err   error
}

func (err StartError) Error() string {
	return fmt.Sprintf("unable to start recording (%s): %v", err.Stage, err.Err)
}

func (err StartError) Unwrap() error {
	return err.Err
}
