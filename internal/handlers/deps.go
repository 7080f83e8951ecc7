package handlers

import (
	"context"

	"credits/internal/models"
	"credits/internal/services"
	"credits/internal/store"
)

// CreditService is the facade the HTTP layer drives. Posting operations
// report failures inside their result; the rest return errors.
type CreditService interface {
	OpenAccount(ctx context.Context, userID, currency string) (models.Balance, error)
	GetBalance(ctx context.Context, userID string) (models.Balance, error)
	CanAfford(ctx context.Context, userID, amount, currency string) (bool, error)
	GetHistory(ctx context.Context, userID string, filter models.HistoryFilter) ([]models.LedgerEntry, error)
	Reconcile(ctx context.Context, userID string) (services.Reconciliation, error)
	ListAudit(ctx context.Context, filter store.AuditFilter) ([]models.AuditRecord, error)

	AddCredits(ctx context.Context, params services.CreditParams) services.CreditResult
	DeductCredits(ctx context.Context, params services.CreditParams) services.CreditResult
	RefundCredits(ctx context.Context, params services.CreditParams) services.CreditResult
	AdjustBalance(ctx context.Context, params services.CreditParams) services.CreditResult

	TopUp(ctx context.Context, params services.FlowParams) services.FlowResult
	ChargeReservation(ctx context.Context, params services.FlowParams) services.FlowResult
	Signup(ctx context.Context, params services.SignupParams) services.FlowResult

	ApplyPromotion(ctx context.Context, params services.ApplyPromotionParams) services.PromotionResult
	CreatePromotion(ctx context.Context, definition models.Promotion) (models.Promotion, error)
	ActivatePromotion(ctx context.Context, id string) (models.Promotion, error)
	PausePromotion(ctx context.Context, id string) (models.Promotion, error)
	ExpirePromotion(ctx context.Context, id string) (models.Promotion, error)
	GetPromotion(ctx context.Context, id string) (models.Promotion, error)
	ListPromotions(ctx context.Context, filter store.PromotionFilter) ([]models.Promotion, error)
	ListApplications(ctx context.Context, userID string) ([]models.PromotionApplication, error)
}
