package ports

import (
	"context"
	"errors"
	"time"

	"deltadrift/internal/domain/drift"
)

var ErrDriftEventNotFound = errors.New("drift event not found")

type DriftEventCreate struct {
	RepoID     string
	PRNumber   int
	BaseBranch string
	HeadBranch string
	BaseSHA    string
	HeadSHA    string
}

// DriftEvent is the read shape for one analysis run, denormalized with the
// owning repository's full name and installation id so the worker does not
// need a second lookup.
type DriftEvent struct {
	ID             string
	RepoID         string
	RepoFullName   string
	InstallationID int64
	PRNumber       int
	BaseBranch     string
	HeadBranch     string
	BaseSHA        string
	HeadSHA        string
	CheckRunID     *int64
	Phase          drift.Phase
	Result         drift.Result
	OverallScore   *float64
	Summary        string
	ErrorMessage   string
	AgentLogs      string
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

type CodeChangeCreate struct {
	Path   string
	Type   drift.ChangeType
	IsCode bool
}

type CodeChange struct {
	ID           string
	DriftEventID string
	Path         string
	Type         drift.ChangeType
	IsCode       bool
}

// DriftEventRepository persists drift events and their extracted code
// changes. Mutations are issued by the webhook router (create) and the
// analysis worker (everything else).
type DriftEventRepository interface {
	CreateDriftEvent(ctx context.Context, in DriftEventCreate) (DriftEvent, error)
	GetDriftEvent(ctx context.Context, id string) (DriftEvent, error)
	SetCheckRunID(ctx context.Context, id string, checkRunID int64) error
	SetPhase(ctx context.Context, id string, phase drift.Phase) error
	MarkStarted(ctx context.Context, id string, phase drift.Phase, at time.Time) error
	Complete(ctx context.Context, id string, result drift.Result, summary string, agentLogs string, at time.Time) error
	Fail(ctx context.Context, id string, message string, at time.Time) error
	ReplaceCodeChanges(ctx context.Context, driftEventID string, changes []CodeChangeCreate) error
	ListCodeChanges(ctx context.Context, driftEventID string) ([]CodeChange, error)
}
