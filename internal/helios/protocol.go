package helios

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradewarden/internal/config"
	"tradewarden/internal/events"
	"tradewarden/internal/exchange"

	"github.com/google/uuid"
)

// Restorer puts a stable version's artifact back in place.
type Restorer interface {
	Restore(version, artifactPath string) error
}

// RollbackNotice tells subscribers (the scheduler) that a rollback
// executed and trading should pause.
type RollbackNotice struct {
	DeploymentID uuid.UUID
	FromVersion  string
	ToVersion    string
	Reason       string
}

type rollbackJob struct {
	deployment *Deployment
	phase      Phase
	reason     string
}

// Protocol drives the deployment state machine. Rollbacks run on a
// dedicated worker so recording a NO-GO never blocks the caller. The
// rollback and postmortem locks are separate and never held together.
type Protocol struct {
	store     *Store
	publisher events.Publisher
	restorer  Restorer
	logger    zerolog.Logger

	monitoringInterval time.Duration
	retention          int

	rollbackMu   sync.Mutex
	postmortemMu sync.Mutex

	jobs    chan rollbackJob
	notices chan RollbackNotice
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewProtocol builds the protocol from configuration. The restorer
// defaults to file-level restore under the configured artifact dir.
func NewProtocol(cfg config.HeliosConfig, store *Store, publisher events.Publisher) *Protocol {
	interval := time.Duration(cfg.MonitoringIntervalS) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	retention := cfg.StableVersionRetention
	if retention <= 0 {
		retention = 10
	}
	return &Protocol{
		store:              store,
		publisher:          publisher,
		restorer:           NewArtifactRestorer(cfg.ArtifactDir),
		logger:             config.NewLogger("helios"),
		monitoringInterval: interval,
		retention:          retention,
		jobs:               make(chan rollbackJob, 8),
		notices:            make(chan RollbackNotice, 8),
		stop:               make(chan struct{}),
	}
}

// SetRestorer swaps the restore mechanism; tests use this.
func (p *Protocol) SetRestorer(r Restorer) { p.restorer = r }

// Notices delivers rollback notifications to the scheduler.
func (p *Protocol) Notices() <-chan RollbackNotice { return p.notices }

// Start launches the rollback worker and the monitoring loop.
func (p *Protocol) Start(ctx context.Context) {
	p.wg.Add(2)
	go p.rollbackWorker(ctx)
	go p.monitorLoop(ctx)
}

// Stop shuts the workers down and waits for in-flight rollbacks.
func (p *Protocol) Stop() {
	close(p.stop)
	p.wg.Wait()
}

// CanDeploy reports whether new deployments are admitted. Any OPEN S1
// postmortem blocks with an explanatory reason.
func (p *Protocol) CanDeploy(ctx context.Context) (bool, string, error) {
	open, err := p.store.CountOpenS1(ctx)
	if err != nil {
		return false, "", err
	}
	if open > 0 {
		return false, fmt.Sprintf("%d open S1 postmortem(s) must be closed before deploying", open), nil
	}
	return true, "", nil
}

// RegisterDeployment opens a new deployment. It fails while an S1
// postmortem is open and requires the stable fallback version to be
// registered with a restorable artifact.
func (p *Protocol) RegisterDeployment(ctx context.Context, version, stableVersion string) (*Deployment, error) {
	ok, reason, err := p.CanDeploy(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", exchange.ErrConflict, reason)
	}
	if _, err := p.store.GetStableVersion(ctx, stableVersion); err != nil {
		return nil, fmt.Errorf("stable version %q must be registered before deploying: %w", stableVersion, err)
	}

	d, err := p.store.CreateDeployment(ctx, version, stableVersion)
	if err != nil {
		return nil, err
	}
	p.logger.Info().
		Str("deployment_id", d.ID.String()).
		Str("version", version).
		Str("stable_version", stableVersion).
		Msg("Deployment registered")
	return d, nil
}

// RegisterStableVersion records a known-good version, pruning to the
// retention limit.
func (p *Protocol) RegisterStableVersion(ctx context.Context, version, artifactPath string) (*StableVersion, error) {
	return p.store.RecordStableVersion(ctx, version, artifactPath, p.retention)
}

// RecordPhaseDecision appends a phase verdict. The first decision moves
// the deployment to IN_PROGRESS; a NO-GO schedules the rollback worker;
// GO on every phase marks the deployment DEPLOYED.
func (p *Protocol) RecordPhaseDecision(ctx context.Context, deploymentID uuid.UUID, phase Phase, outcome PhaseOutcome, reason string) (*PhaseRecord, error) {
	d, err := p.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if d.Status == DeploymentDeployed || d.Status == DeploymentRolledBack {
		return nil, fmt.Errorf("%w: deployment %s is %s", exchange.ErrConflict, deploymentID, d.Status)
	}

	rec, err := p.store.RecordPhaseDecision(ctx, deploymentID, phase, outcome, reason)
	if err != nil {
		return nil, err
	}
	p.publisher.Publish(ctx, events.SubjectHeliosPhase, rec)

	if d.Status == DeploymentPending {
		if err := p.store.TransitionDeployment(ctx, deploymentID, DeploymentPending, DeploymentInProgress); err != nil {
			// Another recorder won the first transition; keep going
			if !errors.Is(err, exchange.ErrConflict) {
				return nil, err
			}
		}
		d.Status = DeploymentInProgress
	}

	switch outcome {
	case OutcomeNoGo:
		p.logger.Warn().
			Str("deployment_id", deploymentID.String()).
			Str("phase", string(phase)).
			Str("reason", reason).
			Msg("NO-GO recorded, scheduling rollback")
		select {
		case p.jobs <- rollbackJob{deployment: d, phase: phase, reason: reason}:
		default:
			// Queue full; the monitor loop will pick the deployment up
			p.logger.Error().Str("deployment_id", deploymentID.String()).Msg("Rollback queue full")
		}
	case OutcomeGo:
		complete, err := p.allPhasesGo(ctx, deploymentID)
		if err != nil {
			return nil, err
		}
		if complete {
			if err := p.store.TransitionDeployment(ctx, deploymentID, DeploymentInProgress, DeploymentDeployed); err != nil {
				return nil, err
			}
			p.logger.Info().Str("deployment_id", deploymentID.String()).Msg("All phases GO, deployment complete")
		}
	}
	return rec, nil
}

// ClosePostmortem closes a postmortem; root cause and corrective
// actions are mandatory.
func (p *Protocol) ClosePostmortem(ctx context.Context, id uuid.UUID, rootCause string, correctiveActions []string) error {
	p.postmortemMu.Lock()
	defer p.postmortemMu.Unlock()
	if err := p.store.ClosePostmortem(ctx, id, rootCause, correctiveActions); err != nil {
		return err
	}
	p.publisher.Publish(ctx, events.SubjectPostmortemClosed, map[string]any{
		"postmortem_id": id,
		"root_cause":    rootCause,
	})
	p.logger.Info().Str("postmortem_id", id.String()).Msg("Postmortem closed")
	return nil
}

// allPhasesGo reports whether the latest outcome of every phase is GO.
func (p *Protocol) allPhasesGo(ctx context.Context, deploymentID uuid.UUID) (bool, error) {
	records, err := p.store.ListPhaseDecisions(ctx, deploymentID)
	if err != nil {
		return false, err
	}
	latest := make(map[Phase]PhaseOutcome, len(Phases))
	for _, rec := range records {
		latest[rec.Phase] = rec.Outcome // records arrive seq-ordered
	}
	for _, phase := range Phases {
		if latest[phase] != OutcomeGo {
			return false, nil
		}
	}
	return true, nil
}

func (p *Protocol) rollbackWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			p.executeRollback(ctx, job)
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// executeRollback claims the deployment, restores the stable artifact,
// records the rollback, then opens the S1 postmortem under its own lock.
func (p *Protocol) executeRollback(ctx context.Context, job rollbackJob) {
	d := job.deployment

	p.rollbackMu.Lock()
	err := p.store.TransitionDeployment(ctx, d.ID, DeploymentInProgress, DeploymentRolledBack)
	if errors.Is(err, exchange.ErrConflict) {
		// Already handled
		p.rollbackMu.Unlock()
		return
	}
	if err != nil {
		p.rollbackMu.Unlock()
		p.logger.Error().Err(err).Str("deployment_id", d.ID.String()).Msg("Failed to claim deployment for rollback")
		return
	}

	sv, err := p.store.GetStableVersion(ctx, d.StableVersion)
	if err != nil {
		p.logger.Error().Err(err).Str("stable_version", d.StableVersion).Msg("Stable version lookup failed during rollback")
	} else if err := p.restorer.Restore(sv.Version, sv.ArtifactPath); err != nil {
		p.logger.Error().Err(err).Str("stable_version", sv.Version).Msg("Artifact restore failed")
	}

	if _, err := p.store.RecordRollback(ctx, d.ID, d.Version, d.StableVersion, job.reason); err != nil {
		p.logger.Error().Err(err).Str("deployment_id", d.ID.String()).Msg("Failed to record rollback")
	}
	p.rollbackMu.Unlock()

	p.postmortemMu.Lock()
	title := fmt.Sprintf("Rollback of %s at %s: %s", d.Version, job.phase, job.reason)
	pm, err := p.store.OpenPostmortem(ctx, d.ID, SeverityS1, title)
	p.postmortemMu.Unlock()
	if err != nil {
		p.logger.Error().Err(err).Str("deployment_id", d.ID.String()).Msg("Failed to open postmortem")
	} else {
		p.publisher.Publish(ctx, events.SubjectPostmortemOpened, map[string]any{
			"postmortem_id": pm.ID,
			"deployment_id": d.ID,
			"severity":      SeverityS1,
			"title":         title,
		})
		p.logger.Info().Str("postmortem_id", pm.ID.String()).Msg("S1 postmortem opened")
	}

	p.publisher.Publish(ctx, events.SubjectHeliosRollback, map[string]any{
		"deployment_id": d.ID,
		"from_version":  d.Version,
		"to_version":    d.StableVersion,
		"phase":         job.phase,
		"reason":        job.reason,
	})
	p.logger.Warn().
		Str("deployment_id", d.ID.String()).
		Str("from_version", d.Version).
		Str("to_version", d.StableVersion).
		Msg("Rollback executed")

	select {
	case p.notices <- RollbackNotice{
		DeploymentID: d.ID,
		FromVersion:  d.Version,
		ToVersion:    d.StableVersion,
		Reason:       job.reason,
	}:
	default:
	}
}

// monitorLoop re-queues IN_PROGRESS deployments whose ledger holds a
// NO-GO that never rolled back, e.g. after a crash or a full queue.
func (p *Protocol) monitorLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.monitoringInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep(ctx)
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Protocol) sweep(ctx context.Context) {
	deployments, err := p.store.ListDeployments(ctx, 50)
	if err != nil {
		p.logger.Error().Err(err).Msg("Monitor sweep failed to list deployments")
		return
	}
	for _, d := range deployments {
		if d.Status != DeploymentInProgress {
			continue
		}
		records, err := p.store.ListPhaseDecisions(ctx, d.ID)
		if err != nil {
			p.logger.Error().Err(err).Str("deployment_id", d.ID.String()).Msg("Monitor sweep failed to read ledger")
			continue
		}
		for _, rec := range records {
			if rec.Outcome == OutcomeNoGo {
				select {
				case p.jobs <- rollbackJob{deployment: d, phase: rec.Phase, reason: rec.Reason}:
				default:
				}
				break
			}
		}
	}
}
