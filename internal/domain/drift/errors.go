package drift

import "errors"

var (
	ErrInvalidPhase      = errors.New("invalid processing phase")
	ErrInvalidTransition = errors.New("invalid phase transition")
	ErrInvalidResult     = errors.New("invalid drift result")
	ErrInvalidRepoName   = errors.New("repository full name must be owner/name")
)
