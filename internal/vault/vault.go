package vault

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"OracleVault/internal/asset"
	"OracleVault/internal/auth"
	"OracleVault/internal/custody"
	"OracleVault/internal/event"
	"OracleVault/internal/ledger"
	fpmath "OracleVault/internal/math"
	"OracleVault/internal/observability"
	"OracleVault/internal/oracle"
	"OracleVault/internal/policy"
	"OracleVault/internal/pricing"
)

// Settlement records one settled mutating operation.
type Settlement struct {
	OpID             uuid.UUID
	Kind             string // "deposit" or "withdraw"
	Owner            string
	Asset            asset.Asset
	RawAmount        uint64
	NormalizedValue  uint64
	TotalLockedAfter uint64
	SettledAt        time.Time
}

// Stats is the aggregate query surface.
type Stats struct {
	TotalLocked     uint64
	BankCap         uint64
	WithdrawLimit   uint64
	DepositCount    uint64
	WithdrawalCount uint64
	Paused          bool
}

// Config wires a Vault. WithdrawLimit is in raw native smallest units,
// BankCap in common accounting units; both are fixed for the lifetime of
// the instance. The oracle adapter must already carry a feed for the
// native asset.
type Config struct {
	WithdrawLimit uint64
	BankCap       uint64

	Book   *ledger.Book // optional, fresh book if nil
	Assets *asset.Registry
	Oracle *oracle.Adapter
	Roles  auth.RoleChecker
	Pause  auth.PauseControl
	Mover  custody.Mover

	// PersistChan receives every settlement with a blocking send: if the
	// persistence worker falls behind, mutating operations stall rather
	// than lose audit rows. Nil disables persistence.
	PersistChan chan<- Settlement

	// EventChan receives emitted events with a non-blocking send;
	// drop-on-full, downstream can rebuild from the operation log.
	EventChan chan<- event.Envelope

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Vault orchestrates deposits and withdrawals as checks, then effects,
// then interactions. Ledger effects are committed before the external
// asset movement, so even a re-entrant callback observes post-operation
// state; the entry guard rejects such a call outright as a second line of
// defense.
type Vault struct {
	book       *ledger.Book
	normalizer *pricing.Normalizer
	enforcer   policy.Enforcer
	oracle     *oracle.Adapter
	roles      auth.RoleChecker
	pause      auth.PauseControl
	mover      custody.Mover

	persistChan chan<- Settlement
	eventChan   chan<- event.Envelope
	metrics     *observability.Metrics
	log         zerolog.Logger

	// busy is the mutual-exclusion flag over the whole mutating path.
	// A failed swap means another mutating call is between its effects
	// and settlement; the newcomer is rejected, never queued.
	busy atomic.Bool

	depositCount    atomic.Uint64
	withdrawalCount atomic.Uint64
}

func New(cfg Config) (*Vault, error) {
	limits, err := policy.NewLimits(cfg.WithdrawLimit, cfg.BankCap)
	if err != nil {
		return nil, err
	}
	if cfg.Oracle == nil || !cfg.Oracle.HasFeed(asset.Native()) {
		return nil, fmt.Errorf("%w: native asset price feed is required", policy.ErrInvalidParameter)
	}
	if cfg.Roles == nil {
		return nil, fmt.Errorf("%w: role checker is required", policy.ErrInvalidParameter)
	}
	if cfg.Pause == nil {
		return nil, fmt.Errorf("%w: pause gate is required", policy.ErrInvalidParameter)
	}
	if cfg.Mover == nil {
		return nil, fmt.Errorf("%w: asset mover is required", policy.ErrInvalidParameter)
	}

	book := cfg.Book
	if book == nil {
		book = ledger.NewBook()
	}
	assets := cfg.Assets
	if assets == nil {
		assets = asset.NewRegistry()
	}

	return &Vault{
		book:        book,
		normalizer:  pricing.NewNormalizer(cfg.Oracle, assets),
		enforcer:    policy.NewEnforcer(limits),
		oracle:      cfg.Oracle,
		roles:       cfg.Roles,
		pause:       cfg.Pause,
		mover:       cfg.Mover,
		persistChan: cfg.PersistChan,
		eventChan:   cfg.EventChan,
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
	}, nil
}

// Deposit moves rawAmount of an asset from the owner into custody and
// credits the ledger at the oracle-normalized value.
func (v *Vault) Deposit(ctx context.Context, owner string, a asset.Asset, rawAmount uint64) (*Settlement, error) {
	const kind = "deposit"
	start := time.Now()

	if !v.busy.CompareAndSwap(false, true) {
		v.reject(kind, a, ErrReentrant)
		return nil, ErrReentrant
	}
	defer v.busy.Store(false)

	// Checking
	if v.pause.IsPaused() {
		v.reject(kind, a, ErrPaused)
		return nil, ErrPaused
	}
	if rawAmount == 0 {
		v.reject(kind, a, ErrZeroAmount)
		return nil, ErrZeroAmount
	}

	normalized, quote, err := v.normalizer.ToCommonUnit(ctx, a, rawAmount)
	if err != nil {
		v.reject(kind, a, err)
		return nil, err
	}
	if err := v.enforcer.CheckDeposit(v.book.TotalLocked(), normalized); err != nil {
		v.reject(kind, a, err)
		return nil, err
	}

	// Effects — committed before the external movement
	if err := v.book.Credit(a, owner, rawAmount, normalized); err != nil {
		v.reject(kind, a, err)
		return nil, err
	}
	v.depositCount.Add(1)

	// Interaction
	if err := v.mover.TransferIn(ctx, a, owner, rawAmount); err != nil {
		v.rollbackCredit(kind, a, owner, rawAmount, normalized)
		v.depositCount.Add(^uint64(0))
		tf := &TransferFailedError{Kind: kind, Err: err}
		v.reject(kind, a, tf)
		return nil, tf
	}

	// Settled
	s := Settlement{
		OpID:             uuid.New(),
		Kind:             kind,
		Owner:            owner,
		Asset:            a,
		RawAmount:        rawAmount,
		NormalizedValue:  normalized,
		TotalLockedAfter: v.book.TotalLocked(),
		SettledAt:        time.Now().UTC(),
	}
	v.settle(s, event.NewEnvelope(event.TypeDeposit, event.Deposit{
		Owner:           owner,
		Asset:           a.String(),
		RawAmount:       rawAmount,
		NormalizedValue: normalized,
	}), quote, start)
	return &s, nil
}

// Withdraw debits the ledger and moves rawAmount of an asset from custody
// back to the owner. The limit check compares the raw amount against the
// native-unit withdraw limit (see policy.Limits on the mixed units).
func (v *Vault) Withdraw(ctx context.Context, owner string, a asset.Asset, rawAmount uint64) (*Settlement, error) {
	const kind = "withdraw"
	start := time.Now()

	if !v.busy.CompareAndSwap(false, true) {
		v.reject(kind, a, ErrReentrant)
		return nil, ErrReentrant
	}
	defer v.busy.Store(false)

	// Checking
	if v.pause.IsPaused() {
		v.reject(kind, a, ErrPaused)
		return nil, ErrPaused
	}
	if rawAmount == 0 {
		v.reject(kind, a, ErrZeroAmount)
		return nil, ErrZeroAmount
	}
	if err := v.enforcer.CheckWithdraw(rawAmount); err != nil {
		v.reject(kind, a, err)
		return nil, err
	}

	normalized, quote, err := v.normalizer.ToCommonUnit(ctx, a, rawAmount)
	if err != nil {
		v.reject(kind, a, err)
		return nil, err
	}

	// Effects
	applied, err := v.book.Debit(a, owner, rawAmount, normalized)
	if err != nil {
		v.reject(kind, a, err)
		return nil, err
	}
	v.withdrawalCount.Add(1)

	// Interaction
	if err := v.mover.TransferOut(ctx, a, owner, rawAmount); err != nil {
		// Compensating rollback restores the exact aggregate delta that
		// the debit applied, including the clamp.
		if cerr := v.book.Credit(a, owner, rawAmount, applied); cerr != nil {
			v.log.Error().Err(cerr).Str("owner", owner).Stringer("asset", a).
				Msg("rollback credit failed; ledger diverged")
		}
		v.withdrawalCount.Add(^uint64(0))
		if v.metrics != nil {
			v.metrics.RollbacksApplied.WithLabelValues(kind).Inc()
		}
		tf := &TransferFailedError{Kind: kind, Err: err}
		v.reject(kind, a, tf)
		return nil, tf
	}

	// Settled
	s := Settlement{
		OpID:             uuid.New(),
		Kind:             kind,
		Owner:            owner,
		Asset:            a,
		RawAmount:        rawAmount,
		NormalizedValue:  normalized,
		TotalLockedAfter: v.book.TotalLocked(),
		SettledAt:        time.Now().UTC(),
	}
	v.settle(s, event.NewEnvelope(event.TypeWithdraw, event.Withdraw{
		Owner:           owner,
		Asset:           a.String(),
		RawAmount:       rawAmount,
		NormalizedValue: normalized,
	}), quote, start)
	return &s, nil
}

// EmergencyWithdraw moves native assets out of custody WITHOUT touching
// the ledger or the aggregate. Accounting and actual custody diverge by
// design — this is an emergency-only escape hatch, and it works while the
// vault is paused.
func (v *Vault) EmergencyWithdraw(ctx context.Context, principal, to string, rawAmount uint64) error {
	if !v.roles.HasRole(principal, auth.CapabilityOperator) {
		return &CapabilityDeniedError{Principal: principal, Capability: auth.CapabilityOperator}
	}
	if rawAmount == 0 {
		return ErrZeroAmount
	}

	if !v.busy.CompareAndSwap(false, true) {
		return ErrReentrant
	}
	defer v.busy.Store(false)

	if err := v.mover.TransferOut(ctx, asset.Native(), to, rawAmount); err != nil {
		return &TransferFailedError{Kind: "emergency_withdraw", Err: err}
	}

	v.log.Warn().Str("principal", principal).Str("to", to).Uint64("raw_amount", rawAmount).
		Msg("emergency withdrawal bypassed the ledger; accounting no longer matches custody")
	v.emit(event.NewEnvelope(event.TypeEmergencyWithdrawal, event.EmergencyWithdrawal{
		To:        to,
		RawAmount: rawAmount,
		By:        principal,
	}))
	return nil
}

// SetPriceOracle rebinds an asset's price feed. The feed's liveness is
// not checked here; a dead feed surfaces as OracleUnavailable on first
// use.
func (v *Vault) SetPriceOracle(principal string, a asset.Asset, feed oracle.PriceFeed, oracleRef string) error {
	if !v.roles.HasRole(principal, auth.CapabilityAdmin) {
		return &CapabilityDeniedError{Principal: principal, Capability: auth.CapabilityAdmin}
	}
	if feed == nil {
		return fmt.Errorf("%w: nil price feed", policy.ErrInvalidParameter)
	}

	v.oracle.SetFeed(a, feed)
	v.log.Info().Stringer("asset", a).Str("oracle_ref", oracleRef).Str("principal", principal).
		Msg("price oracle set")
	v.emit(event.NewEnvelope(event.TypePriceOracleSet, event.PriceOracleSet{
		Asset:     a.String(),
		OracleRef: oracleRef,
		By:        principal,
	}))
	return nil
}

// Pause engages the external pause gate.
func (v *Vault) Pause(principal string) error {
	if !v.roles.HasRole(principal, auth.CapabilityPauser) {
		return &CapabilityDeniedError{Principal: principal, Capability: auth.CapabilityPauser}
	}
	v.pause.Pause()
	v.log.Warn().Str("principal", principal).Msg("vault paused")
	v.emit(event.NewEnvelope(event.TypePaused, event.Paused{By: principal}))
	return nil
}

// Unpause releases the external pause gate.
func (v *Vault) Unpause(principal string) error {
	if !v.roles.HasRole(principal, auth.CapabilityPauser) {
		return &CapabilityDeniedError{Principal: principal, Capability: auth.CapabilityPauser}
	}
	v.pause.Unpause()
	v.log.Info().Str("principal", principal).Msg("vault unpaused")
	v.emit(event.NewEnvelope(event.TypeUnpaused, event.Unpaused{By: principal}))
	return nil
}

// --- Queries (never blocked by the entry guard) ---

func (v *Vault) BalanceOf(a asset.Asset, owner string) uint64 {
	return v.book.BalanceOf(a, owner)
}

func (v *Vault) TotalLocked() uint64 {
	return v.book.TotalLocked()
}

func (v *Vault) DepositCount() uint64 {
	return v.depositCount.Load()
}

func (v *Vault) WithdrawalCount() uint64 {
	return v.withdrawalCount.Load()
}

func (v *Vault) Stats() Stats {
	limits := v.enforcer.Limits()
	return Stats{
		TotalLocked:     v.book.TotalLocked(),
		BankCap:         limits.BankCap,
		WithdrawLimit:   limits.WithdrawLimit,
		DepositCount:    v.depositCount.Load(),
		WithdrawalCount: v.withdrawalCount.Load(),
		Paused:          v.pause.IsPaused(),
	}
}

// CheckInvariants re-derives the aggregate from current balances at
// current prices. Intended for tests and operational spot checks; between
// operations it holds within the truncation tolerance.
func (v *Vault) CheckInvariants(ctx context.Context) error {
	validator := ledger.NewInvariantValidator(v.book)
	return validator.ValidateAggregate(func(a asset.Asset, raw uint64) (uint64, error) {
		value, _, err := v.normalizer.ToCommonUnit(ctx, a, raw)
		return value, err
	})
}

// --- Internal plumbing ---

func (v *Vault) rollbackCredit(kind string, a asset.Asset, owner string, rawAmount, normalized uint64) {
	if _, err := v.book.Debit(a, owner, rawAmount, normalized); err != nil {
		v.log.Error().Err(err).Str("owner", owner).Stringer("asset", a).
			Msg("rollback debit failed; ledger diverged")
	}
	if v.metrics != nil {
		v.metrics.RollbacksApplied.WithLabelValues(kind).Inc()
	}
}

func (v *Vault) settle(s Settlement, env event.Envelope, quote oracle.Quote, start time.Time) {
	// Persist first (blocking), then publish (drop-on-full).
	if v.persistChan != nil {
		v.persistChan <- s
	}
	v.emit(env)

	if v.metrics != nil {
		v.metrics.OperationsSettled.WithLabelValues(s.Kind).Inc()
		v.metrics.OperationDuration.WithLabelValues(s.Kind).Observe(time.Since(start).Seconds())
		v.metrics.TotalLockedValue.Set(float64(s.TotalLockedAfter))
		v.metrics.DepositCount.Set(float64(v.depositCount.Load()))
		v.metrics.WithdrawalCount.Set(float64(v.withdrawalCount.Load()))
		if quote.Price != 0 {
			v.metrics.QuoteAge.WithLabelValues(s.Asset.String()).
				Observe(quote.Age(time.Now()).Seconds())
		}
	}

	v.log.Info().
		Str("op_id", s.OpID.String()).
		Str("kind", s.Kind).
		Str("owner", s.Owner).
		Stringer("asset", s.Asset).
		Uint64("raw_amount", s.RawAmount).
		Uint64("normalized_value", s.NormalizedValue).
		Uint64("total_locked", s.TotalLockedAfter).
		Msg("operation settled")
}

func (v *Vault) emit(env event.Envelope) {
	if v.eventChan == nil {
		return
	}
	select {
	case v.eventChan <- env:
	default:
		// Drop on full — downstream rebuilds from the operation log.
	}
}

func (v *Vault) reject(kind string, a asset.Asset, err error) {
	if v.metrics != nil {
		v.metrics.OperationsRejected.WithLabelValues(kind, rejectReason(err)).Inc()
		if errors.Is(err, oracle.ErrStalePrice) || errors.Is(err, oracle.ErrInvalidPrice) {
			v.metrics.StaleQuoteRejects.WithLabelValues(a.String()).Inc()
		}
	}
	v.log.Debug().Err(err).Str("kind", kind).Stringer("asset", a).Msg("operation rejected")
}

func rejectReason(err error) string {
	var (
		capErr      *policy.BankCapExceededError
		limitErr    *policy.WithdrawLimitExceededError
		balErr      *ledger.InsufficientBalanceError
		transferErr *TransferFailedError
	)
	switch {
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrReentrant):
		return "reentrant"
	case errors.As(err, &capErr):
		return "bank_cap"
	case errors.As(err, &limitErr):
		return "withdraw_limit"
	case errors.As(err, &balErr):
		return "insufficient_balance"
	case errors.As(err, &transferErr):
		return "transfer_failed"
	case errors.Is(err, pricing.ErrNoPriceFeed):
		return "no_price_feed"
	case errors.Is(err, oracle.ErrStalePrice):
		return "stale_price"
	case errors.Is(err, oracle.ErrInvalidPrice), errors.Is(err, oracle.ErrOracleUnavailable):
		return "oracle"
	case errors.Is(err, asset.ErrUnknownToken):
		return "unknown_token"
	case errors.Is(err, fpmath.ErrOverflow), errors.Is(err, fpmath.ErrDecimalsOutOfRange):
		return "overflow"
	default:
		return "internal"
	}
}
