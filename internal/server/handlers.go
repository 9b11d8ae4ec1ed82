package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"OracleVault/internal/asset"
	"OracleVault/internal/ledger"
	fpmath "OracleVault/internal/math"
	"OracleVault/internal/oracle"
	"OracleVault/internal/policy"
	"OracleVault/internal/pricing"
	"OracleVault/internal/vault"
)

// PrincipalHeader carries the caller identity for capability-gated
// endpoints. Authentication of the header itself is the deployment's
// concern (mTLS, gateway); this service only maps principal to
// capabilities.
const PrincipalHeader = "X-Vault-Principal"

// FeedFactory builds and starts a price feed for a symbol on the oracle
// price stream. The stop function tears the feed down if binding fails.
type FeedFactory func(ctx context.Context, symbol string) (feed oracle.PriceFeed, stop func(), err error)

// Handler serves the vault HTTP API.
type Handler struct {
	vault *vault.Vault
	feeds FeedFactory
	log   zerolog.Logger
}

func NewHandler(v *vault.Vault, feeds FeedFactory, log zerolog.Logger) *Handler {
	return &Handler{vault: v, feeds: feeds, log: log}
}

// Amounts cross the wire as decimal strings. JSON numbers round-trip
// through float64 and silently corrupt the upper uint64 range.
type operationRequest struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type settlementResponse struct {
	OpID             string    `json:"op_id"`
	Kind             string    `json:"kind"`
	Owner            string    `json:"owner"`
	Asset            string    `json:"asset"`
	RawAmount        string    `json:"raw_amount"`
	NormalizedValue  string    `json:"normalized_value"`
	TotalLockedAfter string    `json:"total_locked_after"`
	SettledAt        time.Time `json:"settled_at"`
}

func toSettlementResponse(s *vault.Settlement) settlementResponse {
	return settlementResponse{
		OpID:             s.OpID.String(),
		Kind:             s.Kind,
		Owner:            s.Owner,
		Asset:            s.Asset.String(),
		RawAmount:        strconv.FormatUint(s.RawAmount, 10),
		NormalizedValue:  strconv.FormatUint(s.NormalizedValue, 10),
		TotalLockedAfter: strconv.FormatUint(s.TotalLockedAfter, 10),
		SettledAt:        s.SettledAt,
	}
}

// Deposit handles POST /v1/deposits.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	req, amount, ok := h.decodeOperation(w, r)
	if !ok {
		return
	}

	s, err := h.vault.Deposit(r.Context(), req.Owner, asset.Parse(req.Asset), amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementResponse(s))
}

// Withdraw handles POST /v1/withdrawals.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	req, amount, ok := h.decodeOperation(w, r)
	if !ok {
		return
	}

	s, err := h.vault.Withdraw(r.Context(), req.Owner, asset.Parse(req.Asset), amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementResponse(s))
}

// Balance handles GET /v1/balances/{owner}/{asset}.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	a := asset.Parse(chi.URLParam(r, "asset"))

	writeJSON(w, http.StatusOK, map[string]string{
		"owner":       owner,
		"asset":       a.String(),
		"raw_balance": strconv.FormatUint(h.vault.BalanceOf(a, owner), 10),
	})
}

// VaultStats handles GET /v1/vault.
func (h *Handler) VaultStats(w http.ResponseWriter, r *http.Request) {
	stats := h.vault.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_locked":     strconv.FormatUint(stats.TotalLocked, 10),
		"bank_cap":         strconv.FormatUint(stats.BankCap, 10),
		"withdraw_limit":   strconv.FormatUint(stats.WithdrawLimit, 10),
		"deposit_count":    stats.DepositCount,
		"withdrawal_count": stats.WithdrawalCount,
		"paused":           stats.Paused,
	})
}

// SetOracle handles POST /v1/admin/oracle: binds a price feed consuming
// oracle.prices.{symbol} to an asset.
func (h *Handler) SetOracle(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	if h.feeds == nil {
		writeErrorBody(w, http.StatusServiceUnavailable, "price feed binding is not available")
		return
	}

	var req struct {
		Asset  string `json:"asset"`
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if req.Symbol == "" {
		writeErrorBody(w, http.StatusBadRequest, "symbol is required")
		return
	}

	feed, stop, err := h.feeds(r.Context(), req.Symbol)
	if err != nil {
		writeErrorBody(w, http.StatusBadGateway, fmt.Sprintf("bind price feed: %v", err))
		return
	}

	oracleRef := "oracle.prices." + req.Symbol
	if err := h.vault.SetPriceOracle(principal, asset.Parse(req.Asset), feed, oracleRef); err != nil {
		if stop != nil {
			stop()
		}
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"asset":      asset.Parse(req.Asset).String(),
		"oracle_ref": oracleRef,
	})
}

// Pause handles POST /v1/admin/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	if err := h.vault.Pause(principal); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// Unpause handles POST /v1/admin/unpause.
func (h *Handler) Unpause(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	if err := h.vault.Unpause(principal); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

// EmergencyWithdraw handles POST /v1/admin/emergency-withdrawals.
func (h *Handler) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req struct {
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	amount, err := strconv.ParseUint(req.Amount, 10, 64)
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, fmt.Sprintf("invalid amount %q", req.Amount))
		return
	}

	if err := h.vault.EmergencyWithdraw(r.Context(), principal, req.To, amount); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"to":         req.To,
		"raw_amount": req.Amount,
	})
}

func (h *Handler) decodeOperation(w http.ResponseWriter, r *http.Request) (operationRequest, uint64, bool) {
	var req operationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return req, 0, false
	}
	if req.Owner == "" {
		writeErrorBody(w, http.StatusBadRequest, "owner is required")
		return req, 0, false
	}
	amount, err := strconv.ParseUint(req.Amount, 10, 64)
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, fmt.Sprintf("invalid amount %q", req.Amount))
		return req, 0, false
	}
	return req, amount, true
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	principal := r.Header.Get(PrincipalHeader)
	if principal == "" {
		writeErrorBody(w, http.StatusUnauthorized, PrincipalHeader+" header is required")
		return "", false
	}
	return principal, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	writeErrorBody(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	var (
		capDenied    *vault.CapabilityDeniedError
		bankCap      *policy.BankCapExceededError
		limit        *policy.WithdrawLimitExceededError
		insufficient *ledger.InsufficientBalanceError
		transfer     *vault.TransferFailedError
	)
	switch {
	case errors.Is(err, vault.ErrZeroAmount),
		errors.Is(err, policy.ErrInvalidParameter),
		errors.Is(err, asset.ErrUnknownToken),
		errors.Is(err, fpmath.ErrOverflow),
		errors.Is(err, fpmath.ErrDecimalsOutOfRange):
		return http.StatusBadRequest
	case errors.As(err, &capDenied):
		return http.StatusForbidden
	case errors.As(err, &bankCap),
		errors.As(err, &limit),
		errors.As(err, &insufficient),
		errors.Is(err, vault.ErrReentrant):
		return http.StatusConflict
	case errors.As(err, &transfer),
		errors.Is(err, oracle.ErrOracleUnavailable),
		errors.Is(err, oracle.ErrStalePrice),
		errors.Is(err, oracle.ErrInvalidPrice),
		errors.Is(err, pricing.ErrNoPriceFeed):
		return http.StatusBadGateway
	case errors.Is(err, vault.ErrPaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeErrorBody(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
