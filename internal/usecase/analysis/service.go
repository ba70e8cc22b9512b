package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"deltadrift/internal/bootstrap/logging"
	"deltadrift/internal/domain/drift"
	"deltadrift/internal/errs"
	"deltadrift/internal/ports"
)

const (
	checkTitleAnalyzing   = "Analyzing Changes"
	checkSummaryAnalyzing = "Running drift analysis on your documentation..."
	checkTitleClean       = "No Drift Detected"
	checkSummaryClean     = "All documentation is up to date."
	checkTitleFailed      = "Analysis Failed"
)

// Service runs the analysis pipeline for one drift event: extract the
// changed files from the mirror, walk the phases forward, and record the
// outcome on both the event and its status check.
type Service struct {
	uow    ports.UnitOfWork
	drifts ports.DriftEventRepository
	mirror ports.Mirror
	github ports.SourceControl
}

func NewService(
	uow ports.UnitOfWork,
	drifts ports.DriftEventRepository,
	mirror ports.Mirror,
	github ports.SourceControl,
) *Service {
	return &Service{uow: uow, drifts: drifts, mirror: mirror, github: github}
}

type phaseLog struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
	At      string `json:"at"`
}

// Run processes one queued drift event to a terminal state. A missing event
// is a stale delivery and succeeds as a no-op; an already-terminal event is a
// duplicate delivery and also succeeds. Any other failure marks the event
// failed before returning the error.
func (s *Service) Run(ctx context.Context, driftEventID string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.analysis"),
		slog.String("drift_event_id", driftEventID),
	)

	event, err := s.drifts.GetDriftEvent(ctx, driftEventID)
	if err != nil {
		if errors.Is(err, ports.ErrDriftEventNotFound) {
			logging.Warn(logCtx, "drift event vanished, dropping job")
			return nil
		}
		return err
	}
	if event.Phase.Terminal() {
		logging.Info(logCtx, "drift event already finished, dropping duplicate",
			slog.String("phase", string(event.Phase)))
		return nil
	}

	if err := s.analyze(ctx, logCtx, event); err != nil {
		s.fail(ctx, logCtx, event, err)
		return err
	}
	return nil
}

func (s *Service) analyze(ctx context.Context, logCtx context.Context, event ports.DriftEvent) error {
	startedAt := time.Now().UTC()
	if err := s.drifts.MarkStarted(ctx, event.ID, drift.PhaseScouting, startedAt); err != nil {
		return err
	}
	s.pushCheck(ctx, logCtx, event, ports.CheckRunUpdate{
		Status:  "in_progress",
		Title:   checkTitleAnalyzing,
		Summary: checkSummaryAnalyzing,
	})

	logs := []phaseLog{phaseEntry(drift.PhaseScouting, "extracting changed files")}

	changes, err := s.scout(ctx, event)
	if err != nil {
		return err
	}
	logging.Info(logCtx, "changes extracted",
		slog.Int("total", len(changes)),
		slog.Int("code", countCode(changes)),
	)

	current := drift.PhaseScouting
	for _, phase := range []drift.Phase{drift.PhaseAnalyzing, drift.PhaseGenerating, drift.PhaseVerifying} {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !drift.CanTransition(current, phase) {
			return fmt.Errorf("%w: %s -> %s", drift.ErrInvalidTransition, current, phase)
		}
		if err := s.drifts.SetPhase(ctx, event.ID, phase); err != nil {
			return err
		}
		logs = append(logs, phaseEntry(phase, "phase passed"))
		current = phase
	}

	agentLogs, err := json.Marshal(logs)
	if err != nil {
		return errs.Wrap(err, "encode agent logs")
	}

	if err := s.drifts.Complete(ctx, event.ID, drift.ResultClean, checkSummaryClean, string(agentLogs), time.Now().UTC()); err != nil {
		return err
	}

	s.pushCheck(ctx, logCtx, event, ports.CheckRunUpdate{
		Status:     "completed",
		Conclusion: "success",
		Title:      checkTitleClean,
		Summary:    checkSummaryClean,
	})

	logging.Info(logCtx, "drift analysis completed",
		slog.String("result", string(drift.ResultClean)),
		slog.Duration("elapsed", time.Since(startedAt)),
	)
	return nil
}

// scout diffs the mirror and replaces the event's code changes inside one
// transaction so a redelivered job re-extracts instead of duplicating rows.
func (s *Service) scout(ctx context.Context, event ports.DriftEvent) ([]ports.CodeChangeCreate, error) {
	lines, err := s.mirror.Diff(ctx, event.RepoFullName, event.BaseSHA, event.HeadSHA)
	if err != nil {
		return nil, errs.Wrap(err, "diff mirror")
	}

	changes := make([]ports.CodeChangeCreate, 0, len(lines))
	for _, line := range lines {
		parsed, ok := drift.ParseNameStatusLine(line)
		if !ok {
			continue
		}
		changes = append(changes, ports.CodeChangeCreate{
			Path:   parsed.Path,
			Type:   parsed.Type,
			IsCode: parsed.IsCode,
		})
	}

	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		return s.drifts.ReplaceCodeChanges(txCtx, event.ID, changes)
	}); err != nil {
		return nil, err
	}
	return changes, nil
}

func (s *Service) fail(ctx context.Context, logCtx context.Context, event ports.DriftEvent, cause error) {
	logging.Error(logCtx, "drift analysis failed", slog.Any("error", cause))

	// Marking uses a fresh context: the run may have failed on cancellation
	// and the terminal state must still be recorded.
	markCtx := ctx
	if markCtx.Err() != nil {
		var cancel context.CancelFunc
		markCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}

	if err := s.drifts.Fail(markCtx, event.ID, cause.Error(), time.Now().UTC()); err != nil {
		logging.Error(logCtx, "recording failure state failed", slog.Any("error", err))
	}

	s.pushCheck(markCtx, logCtx, event, ports.CheckRunUpdate{
		Status:     "completed",
		Conclusion: "failure",
		Title:      checkTitleFailed,
		Summary:    cause.Error(),
	})
}

func (s *Service) pushCheck(ctx context.Context, logCtx context.Context, event ports.DriftEvent, update ports.CheckRunUpdate) {
	if event.CheckRunID == nil {
		return
	}
	if ok := s.github.UpdateCheckRun(ctx, event.InstallationID, event.RepoFullName, *event.CheckRunID, update); !ok {
		logging.Warn(logCtx, "check run update not applied", slog.String("status", update.Status))
	}
}

func phaseEntry(phase drift.Phase, message string) phaseLog {
	return phaseLog{
		Phase:   string(phase),
		Message: message,
		At:      time.Now().UTC().Format(time.RFC3339),
	}
}

func countCode(changes []ports.CodeChangeCreate) int {
	n := 0
	for _, change := range changes {
		if change.IsCode {
			n++
		}
	}
	return n
}
