package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"changas/contract"
	"changas/notify"
)

const columns = `id, contract_id, opened_by, reason, status, priority, assigned_to,
	resolution, refund_amount, resolved_by, resolved_at, created_at, updated_at`

// Service is the staff-driven dispute resolution engine. Opening a dispute
// freezes the contract; resolving it settles dispute state, contract state,
// and ledger movements in a single transaction.
type Service struct {
	pool      *pgxpool.Pool
	contracts *contract.Service
	validate  *validator.Validate
	notifier  notify.Notifier
	log       zerolog.Logger

	idGenerator func() string
}

func NewService(pool *pgxpool.Pool, contracts *contract.Service, notifier notify.Notifier, log zerolog.Logger) *Service {
	return &Service{
		pool:        pool,
		contracts:   contracts,
		validate:    validator.New(),
		notifier:    notifier,
		log:         log,
		idGenerator: func() string { return uuid.NewString() },
	}
}

// Open files a dispute and freezes the contract in the same transaction.
// Either party to the contract may open one; a second open dispute on the
// same contract is rejected by the partial unique index.
func (s *Service) Open(ctx context.Context, p OpenParams) (Record, error) {
	if err := s.validate.Struct(p); err != nil {
		return Record{}, fmt.Errorf("dispute: invalid open request: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	frozen, err := s.contracts.Freeze(ctx, tx, p.ContractID)
	if err != nil {
		return Record{}, err
	}
	workers, err := s.contracts.WorkerIDs(ctx, tx, p.ContractID)
	if err != nil {
		return Record{}, err
	}
	if frozen.ClientID != p.OpenedBy && !containsWorker(workers, p.OpenedBy) {
		return Record{}, ErrForbidden
	}

	insertSQL := `
		INSERT INTO disputes (id, contract_id, opened_by, reason, status, priority)
		VALUES ($1, $2, $3, $4, 'open', 'medium')
		RETURNING ` + columns

	rec, err := scanRecord(tx.QueryRow(ctx, insertSQL, s.idGenerator(), p.ContractID, p.OpenedBy, p.Reason))
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, ErrOpenDisputeExists
		}
		return Record{}, fmt.Errorf("dispute: insert: %w", err)
	}

	if err := s.appendLog(ctx, tx, rec.ID, p.OpenedBy, "opened", &p.Reason); err != nil {
		return Record{}, err
	}
	if err := s.enqueueOutbox(ctx, tx, "dispute.opened", map[string]any{
		"dispute_id":  rec.ID,
		"contract_id": p.ContractID,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit open: %w", err)
	}

	s.log.Info().
		Str("dispute_id", rec.ID).
		Str("contract_id", p.ContractID).
		Str("opened_by", p.OpenedBy).
		Msg("dispute opened")

	counterparties := workers
	if p.OpenedBy != frozen.ClientID {
		counterparties = []string{frozen.ClientID}
	}
	for _, userID := range counterparties {
		notify.Dispatch(ctx, s.notifier, userID, "dispute_opened", map[string]any{
			"dispute_id":  rec.ID,
			"contract_id": p.ContractID,
		})
	}
	return rec, nil
}

// Assign puts an open dispute into review under a staff member. The status
// change and its audit entry commit together.
func (s *Service) Assign(ctx context.Context, disputeID, staffID string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE disputes
		SET status = 'in_review', assigned_to = $1, updated_at = get_tx_timestamp()
		WHERE id = $2 AND status = 'open'
		RETURNING ` + columns

	rec, err := scanRecord(tx.QueryRow(ctx, query, staffID, disputeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, s.stateConflict(ctx, disputeID)
		}
		return Record{}, fmt.Errorf("dispute: assign: %w", err)
	}

	if err := s.appendLog(ctx, tx, rec.ID, staffID, "assigned", nil); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit assignment: %w", err)
	}
	return rec, nil
}

// SetPriority reorders the staff queue. Resolved disputes are immutable.
func (s *Service) SetPriority(ctx context.Context, disputeID, staffID string, priority Priority) (Record, error) {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
	default:
		return Record{}, fmt.Errorf("dispute: unknown priority %q", priority)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE disputes
		SET priority = $1, updated_at = get_tx_timestamp()
		WHERE id = $2 AND status IN ('open', 'in_review')
		RETURNING ` + columns

	rec, err := scanRecord(tx.QueryRow(ctx, query, priority, disputeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, s.stateConflict(ctx, disputeID)
		}
		return Record{}, fmt.Errorf("dispute: set priority: %w", err)
	}

	var note = string(priority)
	if err := s.appendLog(ctx, tx, rec.ID, staffID, "priority_changed", &note); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit priority change: %w", err)
	}
	return rec, nil
}

// AddNote appends to the audit trail of an unresolved dispute. The dispute
// row is locked so the note cannot land on a dispute resolving concurrently.
func (s *Service) AddNote(ctx context.Context, disputeID, actorID, note string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + columns + ` FROM disputes WHERE id = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRow(ctx, query, disputeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("dispute: load for note: %w", err)
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrInvalidState, rec.Status)
	}

	if err := s.appendLog(ctx, tx, disputeID, actorID, "note", &note); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: commit note: %w", err)
	}
	return nil
}

// Resolve closes a dispute with a staff decision. All parameter problems
// surface before the transaction opens; once it opens, dispute state,
// contract settlement, and ledger rows commit or roll back together.
func (s *Service) Resolve(ctx context.Context, p ResolveParams) (Record, error) {
	if err := s.validate.Struct(p); err != nil {
		return Record{}, fmt.Errorf("dispute: invalid resolution: %w", err)
	}
	if p.Resolution == ResolvePartialRefund && p.RefundAmount == nil {
		return Record{}, fmt.Errorf("%w: partial refund requires an amount", ErrBadResolution)
	}
	if p.Resolution != ResolvePartialRefund && p.RefundAmount != nil {
		return Record{}, fmt.Errorf("%w: refund amount only applies to partial refunds", ErrBadResolution)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + columns + ` FROM disputes WHERE id = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRow(ctx, query, p.DisputeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: load for resolution: %w", err)
	}
	if rec.Status != StatusInReview {
		return Record{}, fmt.Errorf("%w: status %s", ErrNotInReview, rec.Status)
	}

	var (
		settled    contract.Record
		settleErr  error
		nextStatus Status
	)
	switch p.Resolution {
	case ResolveFullRelease:
		settled, settleErr = s.contracts.SettleRelease(ctx, tx, rec.ContractID)
		nextStatus = StatusResolvedReleased
	case ResolveFullRefund:
		settled, settleErr = s.contracts.SettleRefund(ctx, tx, rec.ContractID)
		nextStatus = StatusResolvedRefunded
	case ResolvePartialRefund:
		settled, settleErr = s.contracts.SettlePartial(ctx, tx, rec.ContractID, *p.RefundAmount)
		nextStatus = StatusResolvedPartial
	default:
		return Record{}, fmt.Errorf("%w: %s", ErrBadResolution, p.Resolution)
	}
	if settleErr != nil {
		return Record{}, settleErr
	}

	updateSQL := `
		UPDATE disputes
		SET status = $1, resolution = $2, refund_amount = $3,
		    resolved_by = $4, resolved_at = get_tx_timestamp(), updated_at = get_tx_timestamp()
		WHERE id = $5
		RETURNING ` + columns

	rec, err = scanRecord(tx.QueryRow(ctx, updateSQL, nextStatus, p.Resolution, p.RefundAmount, p.StaffID, p.DisputeID))
	if err != nil {
		return Record{}, fmt.Errorf("dispute: mark resolved: %w", err)
	}

	if err := s.appendLog(ctx, tx, rec.ID, p.StaffID, "resolved", &p.Note); err != nil {
		return Record{}, err
	}
	if err := s.enqueueOutbox(ctx, tx, "dispute.resolved", map[string]any{
		"dispute_id":  rec.ID,
		"contract_id": rec.ContractID,
		"resolution":  string(p.Resolution),
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit resolution: %w", err)
	}

	s.log.Info().
		Str("dispute_id", rec.ID).
		Str("contract_id", rec.ContractID).
		Str("resolution", string(p.Resolution)).
		Str("staff_id", p.StaffID).
		Msg("dispute resolved")

	workers, err := s.contracts.WorkerIDs(ctx, s.pool, rec.ContractID)
	if err != nil {
		s.log.Warn().Err(err).Str("contract_id", rec.ContractID).Msg("could not list workers for notification")
	}
	for _, userID := range append([]string{settled.ClientID}, workers...) {
		notify.Dispatch(ctx, s.notifier, userID, "dispute_resolved", map[string]any{
			"dispute_id": rec.ID,
			"resolution": string(p.Resolution),
		})
	}
	return rec, nil
}

// Get returns a dispute by id.
func (s *Service) Get(ctx context.Context, disputeID string) (Record, error) {
	query := `SELECT ` + columns + ` FROM disputes WHERE id = $1`
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, disputeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get: %w", err)
	}
	return rec, nil
}

// ListOpen returns unresolved disputes for the staff queue, most urgent and
// oldest first.
func (s *Service) ListOpen(ctx context.Context) ([]Record, error) {
	query := `
		SELECT ` + columns + `
		FROM disputes
		WHERE status IN ('open', 'in_review')
		ORDER BY array_position(ARRAY['urgent','high','medium','low'], priority::text), created_at ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dispute: list open: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

// Logs returns the audit trail, oldest first.
func (s *Service) Logs(ctx context.Context, disputeID string) ([]LogEntry, error) {
	query := `
		SELECT id, dispute_id, actor_id, action, note, created_at
		FROM dispute_logs
		WHERE dispute_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: logs: %w", err)
	}
	defer rows.Close()

	out := make([]LogEntry, 0, 8)
	for rows.Next() {
		var entry LogEntry
		if err := rows.Scan(&entry.ID, &entry.DisputeID, &entry.ActorID, &entry.Action, &entry.Note, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan log: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate logs: %w", err)
	}
	return out, nil
}

func (s *Service) appendLog(ctx context.Context, tx pgx.Tx, disputeID, actorID, action string, note *string) error {
	const query = `
		INSERT INTO dispute_logs (id, dispute_id, actor_id, action, note)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, query, s.idGenerator(), disputeID, actorID, action, note); err != nil {
		return fmt.Errorf("dispute: append log: %w", err)
	}
	return nil
}

func (s *Service) enqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	const query = `INSERT INTO outbox (topic, payload) VALUES ($1, $2)`
	if _, err := tx.Exec(ctx, query, topic, payload); err != nil {
		return fmt.Errorf("dispute: enqueue outbox: %w", err)
	}
	return nil
}

// stateConflict distinguishes a missing dispute from one in the wrong state
// after a guarded update matched no rows.
func (s *Service) stateConflict(ctx context.Context, disputeID string) error {
	rec, err := s.Get(ctx, disputeID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: status %s", ErrInvalidState, rec.Status)
}

func containsWorker(workerIDs []string, userID string) bool {
	for _, id := range workerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.ContractID, &rec.OpenedBy, &rec.Reason,
		&rec.Status, &rec.Priority, &rec.AssignedTo,
		&rec.Resolution, &rec.RefundAmount, &rec.ResolvedBy, &rec.ResolvedAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	return rec, err
}
