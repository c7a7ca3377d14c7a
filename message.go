package main

import (
	"errors"

	"github.com/divyadrishti/detection-engine/lifecycle"
)

const (
	MsgSwitched = "Model loaded and active."

	MsgUnknownModel = "That model is not in the catalog. Pick one of the listed models."

	MsgCorruptArtifact = "The model file was corrupted and a fresh download was also unusable. No model is active; check the model source and try again."

	MsgUnrecoverable = "The model file is corrupted and cannot be downloaded again. No model is active; replace the file or pick a different model."

	MsgLoadFailure = "The model could not be loaded. No model is active; pick a different model or retry."
)

// switchMessage is the operator-facing text for a switch outcome.
func switchMessage(err error) string {
	switch {
	case err == nil:
		return MsgSwitched
	case errors.Is(err, lifecycle.ErrUnknownModel):
		return MsgUnknownModel
	case errors.Is(err, lifecycle.ErrCorruptArtifact):
		return MsgCorruptArtifact
	case errors.Is(err, lifecycle.ErrUnrecoverableCorruption):
		return MsgUnrecoverable
	}
	return MsgLoadFailure
}
