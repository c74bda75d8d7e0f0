package contract

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"changas/allocation"
	"changas/commission"
	"changas/ledger"
	"changas/membership"
	"changas/notify"
)

// Service owns the escrow contract state machine. Every mutating operation
// runs in a single transaction: status change, ledger rows, timeline event,
// and outbox message commit together or not at all.
type Service struct {
	pool        *pgxpool.Pool
	commission  *commission.Service
	memberships *membership.Repository
	splitter    *allocation.Splitter
	ledger      *ledger.Repository
	notifier    notify.Notifier
	log         zerolog.Logger

	idGenerator func() string
	now         func() time.Time
}

func NewService(
	pool *pgxpool.Pool,
	commissionSvc *commission.Service,
	memberships *membership.Repository,
	splitter *allocation.Splitter,
	ledgerRepo *ledger.Repository,
	notifier notify.Notifier,
	log zerolog.Logger,
) *Service {
	return &Service{
		pool:        pool,
		commission:  commissionSvc,
		memberships: memberships,
		splitter:    splitter,
		ledger:      ledgerRepo,
		notifier:    notifier,
		log:         log,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithIDGenerator overrides id generation. Intended for tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// CreateParams describes a new escrow-backed contract at job-staffing time.
type CreateParams struct {
	JobID     string
	ClientID  string
	WorkerIDs []string
	Price     float64
	StartDate time.Time
	// Allocations is the explicit budget split. Optional for a single
	// worker (defaults to 100%), required when several are assigned.
	Allocations []allocation.Input
	// IsFreeContract forces the 0% commission branch.
	IsFreeContract bool
}

// Create computes the commission once, stores the contract with its worker
// split, and consumes a membership free slot when that branch fired. The
// contract starts at pending/pending until the gateway confirms the escrow
// capture.
func (s *Service) Create(ctx context.Context, params CreateParams) (Record, error) {
	if params.JobID == "" || params.ClientID == "" {
		return Record{}, fmt.Errorf("contract: job and client ids required")
	}
	if params.Price <= 0 {
		return Record{}, ErrInvalidPrice
	}
	if len(params.WorkerIDs) == 0 {
		return Record{}, ErrWorkersRequired
	}
	if len(params.WorkerIDs) > 1 && len(params.Allocations) == 0 {
		return Record{}, ErrAllocationsRequired
	}
	if params.StartDate.IsZero() {
		params.StartDate = s.now()
	}

	var allocs []allocation.Allocation
	if len(params.Allocations) > 0 {
		validated, err := allocation.Validate(params.Price, params.WorkerIDs, params.Allocations)
		if err != nil {
			return Record{}, err
		}
		allocs = validated
	} else {
		allocs = allocation.DefaultSingle(params.WorkerIDs[0], params.Price)
	}

	result, err := s.commission.CalculateForUser(ctx, params.ClientID, params.Price,
		commission.Options{IsFreeContract: params.IsFreeContract})
	if err != nil {
		return Record{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	insertSQL := `
		INSERT INTO contracts (id, job_id, client_id, price, commission_rate, commission_amount, total_price, status, payment_status, start_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', 'pending', $8)
		RETURNING ` + columns

	rec, err := scanRecord(tx.QueryRow(ctx, insertSQL,
		s.idGenerator(),
		params.JobID,
		params.ClientID,
		params.Price,
		result.Rate,
		result.Commission,
		params.Price+result.Commission,
		params.StartDate,
	))
	if err != nil {
		return Record{}, fmt.Errorf("contract: insert: %w", err)
	}

	if result.ConsumesFreeSlot {
		if _, err := s.memberships.UseFreeContract(ctx, tx, params.ClientID, rec.ID); err != nil {
			return Record{}, err
		}
	}

	if err := s.splitter.Store(ctx, tx, rec.ID, allocs); err != nil {
		return Record{}, err
	}

	payload := map[string]any{
		"job_id":            rec.JobID,
		"price":             rec.Price,
		"commission_rate":   rec.CommissionRate,
		"commission_amount": rec.CommissionAmount,
		"tier":              result.TierDescription,
		"workers":           params.WorkerIDs,
	}
	if err := insertTimelineEvent(ctx, tx, rec.ID, "CONTRACT_CREATED", params.ClientID, payload); err != nil {
		return Record{}, err
	}
	if err := enqueueOutbox(ctx, tx, "contract.created", map[string]any{
		"contract_id": rec.ID,
		"job_id":      rec.JobID,
		"total_price": rec.TotalPrice,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("contract: commit create: %w", err)
	}

	s.log.Info().
		Str("contract_id", rec.ID).
		Float64("price", rec.Price).
		Float64("commission", rec.CommissionAmount).
		Str("tier", result.TierDescription).
		Msg("contract created")

	for _, workerID := range params.WorkerIDs {
		notify.Dispatch(ctx, s.notifier, workerID, "contract_created", map[string]any{"contract_id": rec.ID})
	}

	return rec, nil
}

// AcceptJob records a worker's commitment, closing their open proposal.
// Once every proposal is accepted the contract moves to accepted.
func (s *Service) AcceptJob(ctx context.Context, contractID, workerID string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return Record{}, err
	}
	if rec.Disputed() {
		return Record{}, ErrDisputed
	}
	if rec.Terminal() {
		return Record{}, fmt.Errorf("%w: %s", ErrInvalidState, rec.Status)
	}

	if err := s.splitter.AcceptProposal(ctx, tx, contractID, workerID); err != nil {
		return Record{}, err
	}

	open, err := s.splitter.OpenProposals(ctx, tx, contractID)
	if err != nil {
		return Record{}, err
	}
	if open == 0 && (rec.Status == StatusReady || rec.Status == StatusPending) {
		updated, err := s.updateStatus(ctx, tx, contractID, StatusAccepted, rec.PaymentStatus)
		if err != nil {
			return Record{}, err
		}
		rec = updated
		if err := insertTimelineEvent(ctx, tx, contractID, "CONTRACT_ACCEPTED", workerID, nil); err != nil {
			return Record{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("contract: commit accept: %w", err)
	}
	return rec, nil
}

// StartWork moves an accepted contract to in_progress.
func (s *Service) StartWork(ctx context.Context, contractID, actorID string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return Record{}, err
	}
	if rec.Disputed() {
		return Record{}, ErrDisputed
	}
	if rec.Status != StatusAccepted && rec.Status != StatusReady {
		return Record{}, fmt.Errorf("%w: %s", ErrInvalidState, rec.Status)
	}
	if rec.PaymentStatus != PaymentHeldEscrow {
		return Record{}, ErrEscrowNotHeld
	}

	rec, err = s.updateStatus(ctx, tx, contractID, StatusInProgress, rec.PaymentStatus)
	if err != nil {
		return Record{}, err
	}
	if err := insertTimelineEvent(ctx, tx, contractID, "WORK_STARTED", actorID, nil); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("contract: commit start: %w", err)
	}
	return rec, nil
}

// updateStatus writes both status columns and returns the fresh record.
func (s *Service) updateStatus(ctx context.Context, tx pgx.Tx, contractID string, status Status, payment PaymentStatus) (Record, error) {
	query := `
		UPDATE contracts
		SET status = $1, payment_status = $2, updated_at = get_tx_timestamp()
		WHERE id = $3
		RETURNING ` + columns
	return scanRecord(tx.QueryRow(ctx, query, status, payment, contractID))
}
