package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Contracts is the slice of the contract service the gateway drives. All
// methods join the gateway's transaction so the idempotency reservation and
// the contract mutation commit together.
type Contracts interface {
	MarkEscrowFunded(ctx context.Context, tx pgx.Tx, contractID, externalPaymentID string) error
	CommitPriceIncrease(ctx context.Context, tx pgx.Tx, contractID, externalPaymentID string) error
	ConfirmRefund(ctx context.Context, tx pgx.Tx, contractID string) error
}

// Service consumes payment provider webhooks. Correctness rests on the
// transactional idempotency store; the Redis deduper only saves work on
// obvious replays.
type Service struct {
	pool      TxBeginner
	store     IdempotencyStore
	contracts Contracts
	dedup     Deduper
	log       zerolog.Logger
}

func NewService(pool TxBeginner, store IdempotencyStore, contracts Contracts, dedup Deduper, log zerolog.Logger) *Service {
	if store == nil {
		store = NewPGStore()
	}
	return &Service{
		pool:      pool,
		store:     store,
		contracts: contracts,
		dedup:     dedup,
		log:       log,
	}
}

// HandlePaymentCaptured applies a capture event exactly once. Replays return
// nil without touching contract state.
func (s *Service) HandlePaymentCaptured(ctx context.Context, ev CapturedEvent) error {
	if err := validateCaptured(ev); err != nil {
		return err
	}
	if s.replay(ctx, ev.ExternalPaymentID) {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("gateway: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.Reserve(ctx, tx, ev.ExternalPaymentID); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			s.log.Debug().Str("event_id", ev.ExternalPaymentID).Msg("duplicate capture ignored")
			return nil
		}
		return err
	}

	switch ev.Purpose {
	case PurposeEscrow:
		err = s.contracts.MarkEscrowFunded(ctx, tx, ev.ContractID, ev.ExternalPaymentID)
	case PurposePriceIncrease:
		err = s.contracts.CommitPriceIncrease(ctx, tx, ev.ContractID, ev.ExternalPaymentID)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownPurpose, ev.Purpose)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("gateway: commit tx: %w", err)
	}

	s.mark(ctx, ev.ExternalPaymentID)
	s.log.Info().
		Str("event_id", ev.ExternalPaymentID).
		Str("contract_id", ev.ContractID).
		Str("purpose", string(ev.Purpose)).
		Msg("payment captured")
	return nil
}

// HandlePaymentRefunded acknowledges the provider's refund confirmation.
func (s *Service) HandlePaymentRefunded(ctx context.Context, ev RefundEvent) error {
	if ev.ExternalPaymentID == "" {
		return ErrMissingEventID
	}
	if ev.ContractID == "" {
		return ErrMissingContractID
	}
	if s.replay(ctx, ev.ExternalPaymentID) {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("gateway: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.Reserve(ctx, tx, ev.ExternalPaymentID); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			return nil
		}
		return err
	}

	if err := s.contracts.ConfirmRefund(ctx, tx, ev.ContractID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("gateway: commit tx: %w", err)
	}

	s.mark(ctx, ev.ExternalPaymentID)
	return nil
}

func validateCaptured(ev CapturedEvent) error {
	if ev.ExternalPaymentID == "" {
		return ErrMissingEventID
	}
	if ev.ContractID == "" {
		return ErrMissingContractID
	}
	if ev.Purpose != PurposeEscrow && ev.Purpose != PurposePriceIncrease {
		return fmt.Errorf("%w: %s", ErrUnknownPurpose, ev.Purpose)
	}
	return nil
}

func (s *Service) replay(ctx context.Context, eventID string) bool {
	if s.dedup == nil {
		return false
	}
	seen, err := s.dedup.Seen(ctx, eventID)
	if err != nil {
		s.log.Warn().Err(err).Msg("dedup check failed, falling through to idempotency store")
		return false
	}
	return seen
}

func (s *Service) mark(ctx context.Context, eventID string) {
	if s.dedup == nil {
		return
	}
	if err := s.dedup.Mark(ctx, eventID); err != nil {
		s.log.Warn().Err(err).Msg("dedup mark failed")
	}
}
