// Package helios implements the deployment rollback protocol: a state
// machine over deployments, phase decisions, postmortems, and stable
// versions where any NO-GO rolls back and opens a blocking S1
// postmortem.
package helios

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"tradewarden/internal/config"
	"tradewarden/internal/exchange"
)

// DeploymentStatus is the lifecycle state of a deployment.
type DeploymentStatus string

const (
	DeploymentPending    DeploymentStatus = "PENDING"
	DeploymentInProgress DeploymentStatus = "IN_PROGRESS"
	DeploymentDeployed   DeploymentStatus = "DEPLOYED"
	DeploymentRolledBack DeploymentStatus = "ROLLED_BACK"
)

// Phase is one stage of a deployment.
type Phase string

const (
	PhasePreDeployment  Phase = "PRE_DEPLOYMENT"
	PhaseDeployment     Phase = "DEPLOYMENT"
	PhasePostDeployment Phase = "POST_DEPLOYMENT"
	PhaseVerification   Phase = "VERIFICATION"
	PhaseMonitoring     Phase = "MONITORING"
)

// Phases in deployment order.
var Phases = []Phase{
	PhasePreDeployment,
	PhaseDeployment,
	PhasePostDeployment,
	PhaseVerification,
	PhaseMonitoring,
}

// ValidPhase reports whether p is a known phase.
func ValidPhase(p Phase) bool {
	for _, known := range Phases {
		if p == known {
			return true
		}
	}
	return false
}

// PhaseOutcome is a phase's verdict.
type PhaseOutcome string

const (
	OutcomeGo      PhaseOutcome = "GO"
	OutcomeNoGo    PhaseOutcome = "NO_GO"
	OutcomePending PhaseOutcome = "PENDING"
)

// PostmortemStatus gates further deployments while OPEN.
type PostmortemStatus string

const (
	PostmortemOpen   PostmortemStatus = "OPEN"
	PostmortemClosed PostmortemStatus = "CLOSED"
)

// SeverityS1 is the severity every rollback postmortem opens with.
const SeverityS1 = "S1"

// Deployment is one tracked rollout.
type Deployment struct {
	ID            uuid.UUID        `db:"id"`
	Version       string           `db:"version"`
	StableVersion string           `db:"stable_version"`
	Status        DeploymentStatus `db:"status"`
	CreatedAt     time.Time        `db:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at"`
}

// PhaseRecord is one phase decision; seq totally orders records per
// deployment.
type PhaseRecord struct {
	ID           uuid.UUID    `db:"id"`
	DeploymentID uuid.UUID    `db:"deployment_id"`
	Phase        Phase        `db:"phase"`
	Outcome      PhaseOutcome `db:"outcome"`
	Reason       string       `db:"reason"`
	Seq          int64        `db:"seq"`
	DecidedAt    time.Time    `db:"decided_at"`
}

// Postmortem blocks deployments while OPEN at severity S1.
type Postmortem struct {
	ID                uuid.UUID        `db:"id"`
	DeploymentID      uuid.UUID        `db:"deployment_id"`
	Severity          string           `db:"severity"`
	Status            PostmortemStatus `db:"status"`
	Title             string           `db:"title"`
	RootCause         *string          `db:"root_cause"`
	CorrectiveActions []string         `db:"corrective_actions"`
	OpenedAt          time.Time        `db:"opened_at"`
	ClosedAt          *time.Time       `db:"closed_at"`
}

// Rollback is the ledger record of one executed rollback.
type Rollback struct {
	ID           uuid.UUID `db:"id"`
	DeploymentID uuid.UUID `db:"deployment_id"`
	FromVersion  string    `db:"from_version"`
	ToVersion    string    `db:"to_version"`
	Reason       string    `db:"reason"`
	ExecutedAt   time.Time `db:"executed_at"`
}

// StableVersion is a known-good version with its restorable artifact.
type StableVersion struct {
	ID           uuid.UUID `db:"id"`
	Version      string    `db:"version"`
	ArtifactPath string    `db:"artifact_path"`
	RecordedAt   time.Time `db:"recorded_at"`
}

// Querier is the subset of pgxpool.Pool the store uses; pgxmock
// implements it for unit tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store persists the protocol ledger in PostgreSQL.
type Store struct {
	db     Querier
	logger zerolog.Logger
}

// NewStore connects a pool from database config.
func NewStore(ctx context.Context, cfg config.DatabaseConfig, dsn string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.PoolSize)
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewStoreWithQuerier(pool), nil
}

// NewStoreWithQuerier wraps an existing pool or mock.
func NewStoreWithQuerier(db Querier) *Store {
	return &Store{
		db:     db,
		logger: config.NewLogger("helios.store"),
	}
}

// Close releases the pool.
func (s *Store) Close() { s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS helios_deployments (
	id UUID PRIMARY KEY,
	version TEXT NOT NULL,
	stable_version TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('PENDING', 'IN_PROGRESS', 'DEPLOYED', 'ROLLED_BACK')),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS helios_phase_decisions (
	id UUID PRIMARY KEY,
	deployment_id UUID NOT NULL REFERENCES helios_deployments(id),
	phase TEXT NOT NULL,
	outcome TEXT NOT NULL CHECK (outcome IN ('GO', 'NO_GO', 'PENDING')),
	reason TEXT NOT NULL DEFAULT '',
	seq BIGINT GENERATED ALWAYS AS IDENTITY,
	decided_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_phase_decisions_deployment ON helios_phase_decisions(deployment_id, seq);

CREATE TABLE IF NOT EXISTS helios_postmortems (
	id UUID PRIMARY KEY,
	deployment_id UUID NOT NULL REFERENCES helios_deployments(id),
	severity TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('OPEN', 'CLOSED')),
	title TEXT NOT NULL,
	root_cause TEXT,
	corrective_actions TEXT[] NOT NULL DEFAULT '{}',
	opened_at TIMESTAMPTZ NOT NULL,
	closed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_postmortems_open ON helios_postmortems(severity) WHERE status = 'OPEN';

CREATE TABLE IF NOT EXISTS helios_rollbacks (
	id UUID PRIMARY KEY,
	deployment_id UUID NOT NULL REFERENCES helios_deployments(id),
	from_version TEXT NOT NULL,
	to_version TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	executed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS helios_stable_versions (
	id UUID PRIMARY KEY,
	version TEXT NOT NULL UNIQUE,
	artifact_path TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the protocol tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to run helios migration: %w", err)
	}
	s.logger.Info().Msg("Helios schema migrated")
	return nil
}

// CreateDeployment inserts a new PENDING deployment.
func (s *Store) CreateDeployment(ctx context.Context, version, stableVersion string) (*Deployment, error) {
	if version == "" || stableVersion == "" {
		return nil, fmt.Errorf("%w: version and stable_version are required", exchange.ErrValidation)
	}
	now := time.Now().UTC()
	d := &Deployment{
		ID:            uuid.New(),
		Version:       version,
		StableVersion: stableVersion,
		Status:        DeploymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO helios_deployments (id, version, stable_version, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.Version, d.StableVersion, d.Status, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert deployment: %w", err)
	}
	return d, nil
}

const deploymentColumns = "id, version, stable_version, status, created_at, updated_at"

// GetDeployment fetches one deployment by id.
func (s *Store) GetDeployment(ctx context.Context, id uuid.UUID) (*Deployment, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+deploymentColumns+" FROM helios_deployments WHERE id = $1", id)
	var d Deployment
	err := row.Scan(&d.ID, &d.Version, &d.StableVersion, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: deployment %s", exchange.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	return &d, nil
}

// ListDeployments returns the most recent deployments, newest first.
func (s *Store) ListDeployments(ctx context.Context, limit int) ([]*Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx,
		"SELECT "+deploymentColumns+" FROM helios_deployments ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	var out []*Deployment
	for rows.Next() {
		var d Deployment
		if err := rows.Scan(&d.ID, &d.Version, &d.StableVersion, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// TransitionDeployment moves a deployment from one status to another.
// The guard makes illegal transitions impossible to commit.
func (s *Store) TransitionDeployment(ctx context.Context, id uuid.UUID, from, to DeploymentStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE helios_deployments SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`,
		id, from, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to transition deployment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: deployment %s is not %s", exchange.ErrConflict, id, from)
	}
	return nil
}

// RecordPhaseDecision appends one phase decision to a deployment's
// totally ordered ledger.
func (s *Store) RecordPhaseDecision(ctx context.Context, deploymentID uuid.UUID, phase Phase, outcome PhaseOutcome, reason string) (*PhaseRecord, error) {
	if !ValidPhase(phase) {
		return nil, fmt.Errorf("%w: unknown phase %q", exchange.ErrValidation, phase)
	}
	rec := &PhaseRecord{
		ID:           uuid.New(),
		DeploymentID: deploymentID,
		Phase:        phase,
		Outcome:      outcome,
		Reason:       reason,
		DecidedAt:    time.Now().UTC(),
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO helios_phase_decisions (id, deployment_id, phase, outcome, reason, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq`,
		rec.ID, rec.DeploymentID, rec.Phase, rec.Outcome, rec.Reason, rec.DecidedAt)
	if err := row.Scan(&rec.Seq); err != nil {
		return nil, fmt.Errorf("failed to record phase decision: %w", err)
	}
	return rec, nil
}

// ListPhaseDecisions returns a deployment's phase ledger in order.
func (s *Store) ListPhaseDecisions(ctx context.Context, deploymentID uuid.UUID) ([]*PhaseRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, deployment_id, phase, outcome, reason, seq, decided_at
		FROM helios_phase_decisions WHERE deployment_id = $1 ORDER BY seq`,
		deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phase decisions: %w", err)
	}
	defer rows.Close()

	var out []*PhaseRecord
	for rows.Next() {
		var rec PhaseRecord
		if err := rows.Scan(&rec.ID, &rec.DeploymentID, &rec.Phase, &rec.Outcome, &rec.Reason, &rec.Seq, &rec.DecidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan phase decision: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// OpenPostmortem inserts an OPEN postmortem linked to a deployment.
func (s *Store) OpenPostmortem(ctx context.Context, deploymentID uuid.UUID, severity, title string) (*Postmortem, error) {
	pm := &Postmortem{
		ID:           uuid.New(),
		DeploymentID: deploymentID,
		Severity:     severity,
		Status:       PostmortemOpen,
		Title:        title,
		OpenedAt:     time.Now().UTC(),
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO helios_postmortems (id, deployment_id, severity, status, title, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		pm.ID, pm.DeploymentID, pm.Severity, pm.Status, pm.Title, pm.OpenedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to open postmortem: %w", err)
	}
	return pm, nil
}

// ClosePostmortem closes an OPEN postmortem. Root cause and at least one
// corrective action are mandatory.
func (s *Store) ClosePostmortem(ctx context.Context, id uuid.UUID, rootCause string, correctiveActions []string) error {
	if rootCause == "" {
		return fmt.Errorf("%w: root_cause is required to close a postmortem", exchange.ErrValidation)
	}
	if len(correctiveActions) == 0 {
		return fmt.Errorf("%w: at least one corrective action is required", exchange.ErrValidation)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE helios_postmortems
		SET status = $2, root_cause = $3, corrective_actions = $4, closed_at = $5
		WHERE id = $1 AND status = $6`,
		id, PostmortemClosed, rootCause, correctiveActions, time.Now().UTC(), PostmortemOpen)
	if err != nil {
		return fmt.Errorf("failed to close postmortem: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: postmortem %s is not open", exchange.ErrConflict, id)
	}
	return nil
}

// CountOpenS1 returns the number of OPEN S1 postmortems; deployments are
// blocked while it is non-zero.
func (s *Store) CountOpenS1(ctx context.Context) (int, error) {
	row := s.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM helios_postmortems WHERE severity = $1 AND status = $2",
		SeverityS1, PostmortemOpen)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count open postmortems: %w", err)
	}
	return n, nil
}

// ListPostmortems returns a deployment's postmortems, newest first.
func (s *Store) ListPostmortems(ctx context.Context, deploymentID uuid.UUID) ([]*Postmortem, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, deployment_id, severity, status, title, root_cause, corrective_actions, opened_at, closed_at
		FROM helios_postmortems WHERE deployment_id = $1 ORDER BY opened_at DESC`,
		deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list postmortems: %w", err)
	}
	defer rows.Close()

	var out []*Postmortem
	for rows.Next() {
		var pm Postmortem
		if err := rows.Scan(&pm.ID, &pm.DeploymentID, &pm.Severity, &pm.Status, &pm.Title, &pm.RootCause, &pm.CorrectiveActions, &pm.OpenedAt, &pm.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan postmortem: %w", err)
		}
		out = append(out, &pm)
	}
	return out, rows.Err()
}

// RecordRollback appends one executed rollback to the ledger.
func (s *Store) RecordRollback(ctx context.Context, deploymentID uuid.UUID, fromVersion, toVersion, reason string) (*Rollback, error) {
	rb := &Rollback{
		ID:           uuid.New(),
		DeploymentID: deploymentID,
		FromVersion:  fromVersion,
		ToVersion:    toVersion,
		Reason:       reason,
		ExecutedAt:   time.Now().UTC(),
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO helios_rollbacks (id, deployment_id, from_version, to_version, reason, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rb.ID, rb.DeploymentID, rb.FromVersion, rb.ToVersion, rb.Reason, rb.ExecutedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record rollback: %w", err)
	}
	return rb, nil
}

// RecordStableVersion registers a known-good version and prunes the set
// to the retention limit, dropping the lowest semver versions first.
func (s *Store) RecordStableVersion(ctx context.Context, version, artifactPath string, retention int) (*StableVersion, error) {
	if _, err := semver.NewVersion(version); err != nil {
		return nil, fmt.Errorf("%w: %q is not a semantic version: %v", exchange.ErrValidation, version, err)
	}
	sv := &StableVersion{
		ID:           uuid.New(),
		Version:      version,
		ArtifactPath: artifactPath,
		RecordedAt:   time.Now().UTC(),
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO helios_stable_versions (id, version, artifact_path, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (version) DO UPDATE SET artifact_path = $3, recorded_at = $4`,
		sv.ID, sv.Version, sv.ArtifactPath, sv.RecordedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record stable version: %w", err)
	}

	if retention > 0 {
		if err := s.pruneStableVersions(ctx, retention); err != nil {
			return nil, err
		}
	}
	return sv, nil
}

// pruneStableVersions keeps the newest `retention` versions by semver
// order.
func (s *Store) pruneStableVersions(ctx context.Context, retention int) error {
	versions, err := s.ListStableVersions(ctx)
	if err != nil {
		return err
	}
	if len(versions) <= retention {
		return nil
	}
	// ListStableVersions returns newest semver first
	for _, sv := range versions[retention:] {
		if _, err := s.db.Exec(ctx,
			"DELETE FROM helios_stable_versions WHERE version = $1", sv.Version); err != nil {
			return fmt.Errorf("failed to prune stable version %s: %w", sv.Version, err)
		}
		s.logger.Info().Str("version", sv.Version).Msg("Stable version pruned")
	}
	return nil
}

// GetStableVersion fetches one stable version by exact version string.
func (s *Store) GetStableVersion(ctx context.Context, version string) (*StableVersion, error) {
	row := s.db.QueryRow(ctx,
		"SELECT id, version, artifact_path, recorded_at FROM helios_stable_versions WHERE version = $1",
		version)
	var sv StableVersion
	err := row.Scan(&sv.ID, &sv.Version, &sv.ArtifactPath, &sv.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: stable version %q", exchange.ErrNotFound, version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stable version: %w", err)
	}
	return &sv, nil
}

// ListStableVersions returns all stable versions, highest semver first.
func (s *Store) ListStableVersions(ctx context.Context) ([]*StableVersion, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, version, artifact_path, recorded_at FROM helios_stable_versions")
	if err != nil {
		return nil, fmt.Errorf("failed to list stable versions: %w", err)
	}
	defer rows.Close()

	var out []*StableVersion
	for rows.Next() {
		var sv StableVersion
		if err := rows.Scan(&sv.ID, &sv.Version, &sv.ArtifactPath, &sv.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stable version: %w", err)
		}
		out = append(out, &sv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Semver ordering happens here, not in SQL: text ordering would put
	// 1.10.0 before 1.2.0.
	sort.Slice(out, func(i, j int) bool {
		vi, erri := semver.NewVersion(out[i].Version)
		vj, errj := semver.NewVersion(out[j].Version)
		if erri != nil || errj != nil {
			return out[i].Version > out[j].Version
		}
		return vi.GreaterThan(vj)
	})
	return out, nil
}
