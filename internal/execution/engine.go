// Package execution submits orders to the broker idempotently and
// attaches/verifies SL/TP with bounded retries (spec §4.8).
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-core/internal/broker"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/atlas-desktop/trading-core/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Failure taxonomy (spec §4.8/§7).
var (
	ErrConnection         = errors.New("execution: connection error")
	ErrRateLimited        = errors.New("execution: rate limited")
	ErrSlTpUnverified     = errors.New("execution: sl/tp unverified")
	ErrInvariantViolation = errors.New("execution: internal invariant violated")
)

// RejectedError wraps a broker-reported business rejection, which is
// never retried.
type RejectedError struct{ Reason string }

func (e *RejectedError) Error() string { return fmt.Sprintf("execution: rejected by broker: %s", e.Reason) }

// Engine is the idempotent order-submission and SL/TP-attachment layer.
type Engine struct {
	adapter broker.Adapter
	cfg     types.ExecutionConfig
	log     *zap.Logger

	mu             sync.Mutex
	perSymbolLocks map[string]*sync.Mutex
	seen           map[string]time.Time // client_tag -> submitted-at, for dedup TTL
	pending        []types.PendingSlTpUpdate

	slTpFailureTotal            int
	slTpSuccessAfterRetryTotal  int
}

// NewEngine builds an execution engine bound to adapter.
func NewEngine(adapter broker.Adapter, cfg types.ExecutionConfig, log *zap.Logger) *Engine {
	return &Engine{
		adapter:        adapter,
		cfg:            cfg,
		log:            log.Named("execution"),
		perSymbolLocks: make(map[string]*sync.Mutex),
		seen:           make(map[string]time.Time),
	}
}

func (e *Engine) symbolLock(symbol string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.perSymbolLocks[symbol]
	if !ok {
		l = &sync.Mutex{}
		e.perSymbolLocks[symbol] = l
	}
	return l
}

// Place submits req, assigning a client_tag if the caller hasn't
// already set one. A client_tag already seen within order_dedup_ttl is
// sent to the adapter again, without a new SL/TP attach, and the
// adapter's own client_tag dedupe supplies the prior result; the engine
// stores no results itself. Per-symbol submissions are strictly
// serialised (spec §5).
func (e *Engine) Place(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	if req.ClientTag == "" {
		req.ClientTag = utils.GenerateClientTag()
	}
	req.MagicNumber = e.cfg.MagicNumber

	lock := e.symbolLock(req.Symbol)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	if submittedAt, ok := e.seen[req.ClientTag]; ok && time.Since(submittedAt) < e.cfg.OrderDedupTTL {
		e.mu.Unlock()
		// The adapter dedupes by client_tag, so resending returns the
		// original order's result rather than opening a second position.
		return e.adapter.SendOrder(ctx, req)
	}
	e.seen[req.ClientTag] = time.Now()
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.SubmissionTimeout)
	defer cancel()

	result, err := e.adapter.SendOrder(ctx, req)
	if err != nil {
		return result, err
	}

	if result.Status == types.OrderResultFilled || result.Status == types.OrderResultPartial {
		if req.StopLoss.IsPositive() || req.TakeProfit.IsPositive() {
			e.attachProtection(ctx, result.Ticket, req.StopLoss, req.TakeProfit)
		}
	}
	return result, nil
}

// attachProtection performs N aggressive retries with exponential
// backoff capped by SlTpBackoffCap, verifying each attempt by reading
// the position back. On continued failure it enqueues a
// PendingSlTpUpdate for the background drain.
func (e *Engine) attachProtection(ctx context.Context, ticket int64, sl, tp decimal.Decimal) {
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= e.cfg.SlTpRetries; attempt++ {
		if e.verifyAndApply(ctx, ticket, sl, tp) {
			if attempt > 1 {
				e.slTpSuccessAfterRetryTotal++
			}
			return
		}
		e.slTpFailureTotal++
		if attempt < e.cfg.SlTpRetries {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > e.cfg.SlTpBackoffCap {
				backoff = e.cfg.SlTpBackoffCap
			}
		}
	}

	e.mu.Lock()
	e.pending = append(e.pending, types.PendingSlTpUpdate{
		Ticket:      ticket,
		DesiredSL:   sl,
		DesiredTP:   tp,
		Attempts:    e.cfg.SlTpRetries,
		NextRetryAt: time.Now().Add(backoff),
		CreatedAt:   time.Now(),
	})
	e.mu.Unlock()
}

// verifyAndApply issues modify_position then reads the position back to
// confirm the applied values are within tolerance, per spec §4.1/§4.8.
func (e *Engine) verifyAndApply(ctx context.Context, ticket int64, sl, tp decimal.Decimal) bool {
	var slPtr, tpPtr *decimal.Decimal
	if sl.IsPositive() {
		slPtr = &sl
	}
	if tp.IsPositive() {
		tpPtr = &tp
	}
	if err := e.adapter.ModifyPosition(ctx, ticket, slPtr, tpPtr); err != nil {
		e.log.Warn("modify_position failed", zap.Int64("ticket", ticket), zap.Error(err))
		return false
	}

	positions, err := e.adapter.ListPositions(ctx)
	if err != nil {
		return false
	}
	for _, p := range positions {
		if p.Ticket != ticket {
			continue
		}
		tol := broker.PositionToleranceFloor
		if slPtr != nil && !withinTolerance(p.StopLoss, sl, tol) {
			return false
		}
		if tpPtr != nil && !withinTolerance(p.TakeProfit, tp, tol) {
			return false
		}
		return true
	}
	return false
}

func withinTolerance(got, want decimal.Decimal, tol float64) bool {
	diff := got.Sub(want).Abs()
	d, _ := diff.Float64()
	return d <= tol
}

// DrainPending retries every PendingSlTpUpdate whose NextRetryAt has
// elapsed. Called once per tick. Entries exceeding
// sl_tp_unverified_timeout since creation, or that have used up
// sl_tp_max_background_retries background retries (when that is > 0),
// are force-closed defensively if ForceCloseOnUnverified is set, via the
// supplied closeFn.
func (e *Engine) DrainPending(ctx context.Context, closeFn func(ticket int64) error) {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	var retained []types.PendingSlTpUpdate
	for _, p := range pending {
		if time.Now().Before(p.NextRetryAt) {
			retained = append(retained, p)
			continue
		}
		retriesExhausted := e.cfg.MaxBackgroundRetries > 0 && p.Attempts-e.cfg.SlTpRetries >= e.cfg.MaxBackgroundRetries
		if retriesExhausted || time.Since(p.CreatedAt) > e.cfg.SlTpUnverifiedTimeout {
			e.log.Error("sl/tp unverified past timeout or background retry cap", zap.Int64("ticket", p.Ticket))
			if e.cfg.ForceCloseOnUnverified && closeFn != nil {
				if err := closeFn(p.Ticket); err != nil {
					e.log.Error("force close on unverified sl/tp failed", zap.Int64("ticket", p.Ticket), zap.Error(err))
					retained = append(retained, p)
				}
			}
			continue
		}
		if e.verifyAndApply(ctx, p.Ticket, p.DesiredSL, p.DesiredTP) {
			e.slTpSuccessAfterRetryTotal++
			continue
		}
		p.Attempts++
		p.NextRetryAt = time.Now().Add(e.cfg.SlTpBackoffCap)
		retained = append(retained, p)
	}

	e.mu.Lock()
	e.pending = append(e.pending, retained...)
	e.mu.Unlock()
}

// PendingCount reports how many SL/TP updates are still outstanding.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Metrics returns the SL/TP failure/success counters for the health
// surface and metric snapshots.
func (e *Engine) Metrics() (failureTotal, successAfterRetryTotal int) {
	return e.slTpFailureTotal, e.slTpSuccessAfterRetryTotal
}

// Close fully or partially closes ticket via the adapter. On a
// comment-related *RejectedError it repeats the same ClosePosition call
// once; the adapter call takes no comment or filling-mode argument, so
// nothing is stripped or changed between the two attempts.
func (e *Engine) Close(ctx context.Context, ticket int64, volume decimal.Decimal) (types.OrderResult, error) {
	result, err := e.adapter.ClosePosition(ctx, ticket, volume)
	if err == nil {
		return result, nil
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) && isCommentRejection(rejected.Reason) {
		return e.adapter.ClosePosition(ctx, ticket, volume)
	}
	return result, err
}

func isCommentRejection(reason string) bool {
	return reason == "invalid comment" || reason == "comment too long"
}

// ApplyDefaultProtection attaches an SL at emergencyPct from entryPrice and
// a TP at riskReward multiples of that distance, for a position the engine
// did not originate (spec §4.9 adoption policy). It satisfies
// position.Protector.
func (e *Engine) ApplyDefaultProtection(ctx context.Context, ticket int64, symbol string, side types.OrderSide, entryPrice, emergencyPct, riskReward decimal.Decimal) error {
	distance := entryPrice.Mul(emergencyPct)
	var sl, tp decimal.Decimal
	if side == types.OrderSideLong {
		sl = entryPrice.Sub(distance)
		tp = entryPrice.Add(distance.Mul(riskReward))
	} else {
		sl = entryPrice.Add(distance)
		tp = entryPrice.Sub(distance.Mul(riskReward))
	}
	if !e.verifyAndApply(ctx, ticket, sl, tp) {
		return fmt.Errorf("execution: could not verify default protection for ticket %d", ticket)
	}
	return nil
}
