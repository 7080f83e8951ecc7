package services

import (
	"context"
	"errors"

	"credits/internal/models"
	"credits/internal/money"
	"credits/internal/promotion"
	"credits/internal/store"

	"github.com/sirupsen/logrus"
)

// CreditService is the entry point for external callers. It owns no state:
// it parses caller input, routes to the ledger and promotion services and
// turns their errors into OperationErrors.
type CreditService struct {
	ledger     *LedgerService
	promotions *PromotionService
	logger     logrus.FieldLogger
}

func NewCreditService(ledger *LedgerService, promotions *PromotionService, logger logrus.FieldLogger) *CreditService {
	if logger == nil {
		logger = ledger.logger
	}
	return &CreditService{ledger: ledger, promotions: promotions, logger: logger}
}

// CreditParams is the caller-facing form of a credit or debit. Amount is a
// decimal string; Currency defaults to the configured default currency.
type CreditParams struct {
	UserID         string          `json:"user_id"`
	Amount         string          `json:"amount"`
	Currency       string          `json:"currency,omitempty"`
	Reason         string          `json:"reason"`
	ReferenceID    *string         `json:"reference_id,omitempty"`
	Metadata       models.Metadata `json:"metadata,omitempty"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
}

type OperationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreditResult struct {
	Success bool                `json:"success"`
	Entry   *models.LedgerEntry `json:"entry,omitempty"`
	Balance *models.Balance     `json:"balance,omitempty"`
	Error   *OperationError     `json:"error,omitempty"`
}

func (s *CreditService) AddCredits(ctx context.Context, params CreditParams) CreditResult {
	return s.postCredit(ctx, models.EntryCredit, params)
}

func (s *CreditService) DeductCredits(ctx context.Context, params CreditParams) CreditResult {
	return s.postCredit(ctx, models.EntryDebit, params)
}

// RefundCredits credits the user with reason REFUND whatever reason was given.
func (s *CreditService) RefundCredits(ctx context.Context, params CreditParams) CreditResult {
	params.Reason = string(models.ReasonRefund)
	return s.postCredit(ctx, models.EntryCredit, params)
}

// AdjustBalance takes a signed amount: positive credits, negative debits.
// The reason defaults to ADMIN_ADJUSTMENT.
func (s *CreditService) AdjustBalance(ctx context.Context, params CreditParams) CreditResult {
	signed, err := money.ParseAmount(params.Amount)
	if err != nil {
		return CreditResult{Error: s.failure(models.NewValidationError("amount", err.Error()))}
	}
	if signed.IsZero() {
		return CreditResult{Error: s.failure(models.NewValidationError("amount", "adjustment must not be zero"))}
	}
	if params.Reason == "" {
		params.Reason = string(models.ReasonAdminAdjustment)
	}
	params.Amount = signed.Abs().String()
	if signed.IsNegative() {
		return s.postCredit(ctx, models.EntryDebit, params)
	}
	return s.postCredit(ctx, models.EntryCredit, params)
}

func (s *CreditService) postCredit(ctx context.Context, kind models.EntryKind, params CreditParams) CreditResult {
	cmd, err := s.command(params)
	if err != nil {
		return CreditResult{Error: s.failure(err)}
	}
	p, err := s.ledger.post(ctx, kind, cmd)
	if err != nil {
		return CreditResult{Error: s.failure(err)}
	}
	return CreditResult{Success: true, Entry: &p.Entry, Balance: &p.Balance}
}

func (s *CreditService) command(params CreditParams) (CreditCommand, error) {
	amount, err := s.parseMoney(params.Amount, params.Currency)
	if err != nil {
		return CreditCommand{}, err
	}
	reason, err := models.ParseReason(params.Reason)
	if err != nil {
		return CreditCommand{}, err
	}
	return CreditCommand{
		UserID:         params.UserID,
		Amount:         amount,
		Reason:         reason,
		ReferenceID:    params.ReferenceID,
		Metadata:       params.Metadata,
		IdempotencyKey: params.IdempotencyKey,
	}, nil
}

func (s *CreditService) parseMoney(amount, currency string) (money.Money, error) {
	if currency == "" {
		currency = s.ledger.defaultCurrency
	}
	m, err := money.Parse(amount, currency)
	if err != nil {
		field := "amount"
		if errors.Is(err, money.ErrInvalidCurrency) {
			field = "currency"
		}
		return money.Money{}, models.NewValidationError(field, err.Error())
	}
	return m, nil
}

// failure converts an error into the caller-facing shape. Unexpected errors
// are logged and reported without their details.
func (s *CreditService) failure(err error) *OperationError {
	code := models.ErrorCode(err)
	switch code {
	case "internal_error", "invariant_violation":
		s.logger.WithError(err).Error("credit operation failed")
		return &OperationError{Code: code, Message: "internal error"}
	}
	return &OperationError{Code: code, Message: err.Error()}
}

func (s *CreditService) OpenAccount(ctx context.Context, userID, currency string) (models.Balance, error) {
	return s.ledger.OpenAccount(ctx, userID, currency)
}

func (s *CreditService) GetBalance(ctx context.Context, userID string) (models.Balance, error) {
	return s.ledger.GetBalance(ctx, userID)
}

func (s *CreditService) CanAfford(ctx context.Context, userID, amount, currency string) (bool, error) {
	m, err := s.parseMoney(amount, currency)
	if err != nil {
		return false, err
	}
	return s.ledger.CanAfford(ctx, userID, m)
}

func (s *CreditService) GetHistory(ctx context.Context, userID string, filter models.HistoryFilter) ([]models.LedgerEntry, error) {
	return s.ledger.GetHistory(ctx, userID, filter)
}

func (s *CreditService) Reconcile(ctx context.Context, userID string) (Reconciliation, error) {
	return s.ledger.Reconcile(ctx, userID)
}

func (s *CreditService) ListAudit(ctx context.Context, filter store.AuditFilter) ([]models.AuditRecord, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, models.NewValidationError("pagination", "limit and offset must not be negative")
	}
	return s.ledger.store.ListAudit(ctx, filter)
}

// ApplyPromotionParams names a promotion by id or code; with neither the
// best automatic match for the context type is applied.
type ApplyPromotionParams struct {
	UserID         string          `json:"user_id"`
	PromotionID    string          `json:"promotion_id,omitempty"`
	Code           string          `json:"code,omitempty"`
	Amount         string          `json:"amount"`
	Currency       string          `json:"currency,omitempty"`
	Type           string          `json:"type"`
	Metadata       models.Metadata `json:"metadata,omitempty"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
}

type PromotionResult struct {
	Success          bool            `json:"success"`
	PromotionApplied *Grant          `json:"promotion_applied,omitempty"`
	TotalAmount      *money.Money    `json:"total_amount,omitempty"`
	OriginalAmount   *money.Money    `json:"original_amount,omitempty"`
	Error            *OperationError `json:"error,omitempty"`
}

// ApplyPromotion records the promotion and reports the amount after the
// reward. It does not move any balance.
func (s *CreditService) ApplyPromotion(ctx context.Context, params ApplyPromotionParams) PromotionResult {
	amount, err := s.parseMoney(params.Amount, params.Currency)
	if err != nil {
		return PromotionResult{Error: s.failure(err)}
	}
	result := PromotionResult{TotalAmount: &amount, OriginalAmount: &amount}
	grant, err := s.promotions.Apply(ctx, ApplyRequest{
		PromotionID: params.PromotionID,
		Code:        params.Code,
		Context: promotion.Context{
			UserID:   params.UserID,
			Amount:   amount,
			Type:     models.ContextType(params.Type),
			Metadata: params.Metadata,
		},
		IdempotencyKey: params.IdempotencyKey,
	})
	if err != nil {
		result.Error = s.failure(err)
		return result
	}
	total, err := promotion.Total(amount, grant.Reward, grant.Promotion.IsDiscount())
	if err != nil {
		result.Error = s.failure(err)
		return result
	}
	result.Success = true
	result.PromotionApplied = &grant
	result.TotalAmount = &total
	return result
}

func (s *CreditService) CreatePromotion(ctx context.Context, definition models.Promotion) (models.Promotion, error) {
	return s.promotions.Create(ctx, definition)
}

func (s *CreditService) ActivatePromotion(ctx context.Context, id string) (models.Promotion, error) {
	return s.promotions.Activate(ctx, id)
}

func (s *CreditService) PausePromotion(ctx context.Context, id string) (models.Promotion, error) {
	return s.promotions.Pause(ctx, id)
}

func (s *CreditService) ExpirePromotion(ctx context.Context, id string) (models.Promotion, error) {
	return s.promotions.Expire(ctx, id)
}

func (s *CreditService) GetPromotion(ctx context.Context, id string) (models.Promotion, error) {
	return s.promotions.Get(ctx, id)
}

func (s *CreditService) ListPromotions(ctx context.Context, filter store.PromotionFilter) ([]models.Promotion, error) {
	return s.promotions.List(ctx, filter)
}

func (s *CreditService) ListApplications(ctx context.Context, userID string) ([]models.PromotionApplication, error) {
	return s.promotions.ListApplications(ctx, userID)
}
