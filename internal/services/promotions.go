package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credits/internal/events"
	"credits/internal/models"
	"credits/internal/money"
	"credits/internal/promotion"
	"credits/internal/store"
	"credits/internal/validator"

	"github.com/sirupsen/logrus"
)

// PromotionService owns promotions and their applications. Applying a
// promotion records usage only; granting the reward is up to the caller.
type PromotionService struct {
	core
}

func NewPromotionService(st store.Store, publisher events.Publisher, logger logrus.FieldLogger, opts ...Option) *PromotionService {
	return &PromotionService{core: newCore(st, publisher, logger, opts)}
}

func (s *PromotionService) Get(ctx context.Context, id string) (models.Promotion, error) {
	return s.store.GetPromotion(ctx, id)
}

func (s *PromotionService) List(ctx context.Context, filter store.PromotionFilter) ([]models.Promotion, error) {
	return s.store.ListPromotions(ctx, filter)
}

// ListApplications returns the promotions granted to a user, oldest first.
func (s *PromotionService) ListApplications(ctx context.Context, userID string) ([]models.PromotionApplication, error) {
	if err := models.ValidateUserID(userID); err != nil {
		return nil, err
	}
	return s.store.ListApplications(ctx, userID)
}

// Create stores a new promotion as DRAFT.
func (s *PromotionService) Create(ctx context.Context, definition models.Promotion) (models.Promotion, error) {
	p, err := models.NewPromotion(definition, s.now())
	if err != nil {
		return models.Promotion{}, err
	}
	err = s.runTx(ctx, func(tx store.Tx, out *outbox) error {
		if err := tx.InsertPromotion(ctx, p); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, models.AuditPromotionCreated, "", nil, p.ID, models.Metadata{
			"promotion_id": p.ID,
			"type":         string(p.Type),
		}); err != nil {
			return err
		}
		out.add(statusEvent(p, "", p.UpdatedAt))
		return nil
	})
	if err != nil {
		return models.Promotion{}, err
	}
	s.logger.WithField("promotion_id", p.ID).Info("promotion created")
	return p, nil
}

func (s *PromotionService) Activate(ctx context.Context, id string) (models.Promotion, error) {
	return s.transition(ctx, id, models.Promotion.Activate)
}

func (s *PromotionService) Pause(ctx context.Context, id string) (models.Promotion, error) {
	return s.transition(ctx, id, models.Promotion.Pause)
}

func (s *PromotionService) Expire(ctx context.Context, id string) (models.Promotion, error) {
	return s.transition(ctx, id, models.Promotion.Expire)
}

func (s *PromotionService) transition(ctx context.Context, id string, move func(models.Promotion, time.Time) (models.Promotion, error)) (models.Promotion, error) {
	var updated models.Promotion
	err := s.runTx(ctx, func(tx store.Tx, out *outbox) error {
		current, err := tx.GetPromotionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		updated, err = move(current, s.now())
		if err != nil {
			return err
		}
		return s.saveStatus(ctx, tx, current.Status, updated, out)
	})
	return updated, err
}

func (s *PromotionService) saveStatus(ctx context.Context, tx store.Tx, from models.PromotionStatus, p models.Promotion, out *outbox) error {
	if err := tx.UpdatePromotion(ctx, p); err != nil {
		return err
	}
	if err := s.audit(ctx, tx, models.AuditPromotionStatus, "", nil, p.ID, models.Metadata{
		"promotion_id": p.ID,
		"from":         string(from),
		"to":           string(p.Status),
	}); err != nil {
		return err
	}
	out.add(statusEvent(p, from, p.UpdatedAt))
	s.logger.WithFields(logrus.Fields{
		"promotion_id": p.ID,
		"from":         from,
		"to":           p.Status,
	}).Info("promotion status changed")
	return nil
}

func statusEvent(p models.Promotion, from models.PromotionStatus, at time.Time) events.Event {
	return events.New(events.PromotionStatusChanged, p.ID, int64(p.UsageCount), map[string]any{
		"promotion_id": p.ID,
		"from":         string(from),
		"to":           string(p.Status),
	}, at)
}

// ApplyRequest selects a promotion by id, by code, or, when both are empty,
// the best automatic match for the context.
type ApplyRequest struct {
	PromotionID    string
	Code           string
	Context        promotion.Context
	IdempotencyKey *string
}

func (r ApplyRequest) validate() error {
	if err := models.ValidateUserID(r.Context.UserID); err != nil {
		return err
	}
	if !r.Context.Type.Valid() {
		return models.NewValidationError("type", fmt.Sprintf("unknown context type %q", r.Context.Type))
	}
	if r.Context.Amount.Currency() == "" {
		return models.NewValidationError("amount", "required")
	}
	if r.Code != "" {
		if err := validator.ValidatePromotionCode(validator.NormalizePromotionCode(r.Code)); err != nil {
			return models.NewValidationError("code", err.Error())
		}
	}
	return validateKey(r.IdempotencyKey)
}

// Grant is one promotion applied to one user.
type Grant struct {
	Promotion   models.Promotion            `json:"promotion"`
	Application models.PromotionApplication `json:"application"`
	Reward      money.Money                 `json:"reward"`
	Replayed    bool                        `json:"replayed"`
}

// Apply resolves a promotion, checks that it applies, counts its usage and
// records the application, all in one transaction. A promotion found past
// its validity is moved to EXPIRED and the call fails.
func (s *PromotionService) Apply(ctx context.Context, req ApplyRequest) (Grant, error) {
	if err := req.validate(); err != nil {
		return Grant{}, err
	}
	if req.Context.At.IsZero() {
		req.Context.At = s.now()
	}
	var grant Grant
	var expired error
	err := s.runTx(ctx, func(tx store.Tx, out *outbox) error {
		expired = nil
		if req.IdempotencyKey != nil {
			prior, found, err := s.findApplication(ctx, tx, *req.IdempotencyKey, req)
			if err != nil || found {
				grant = prior
				return err
			}
		}

		p, err := s.resolve(ctx, tx, req)
		if err != nil {
			return err
		}
		if refreshed, changed := p.RefreshExpiry(req.Context.At); changed {
			// Commit the flip to EXPIRED, then report the failure.
			expired = models.NewValidationError("promotion", fmt.Sprintf("promotion %s has expired", p.ID))
			return s.saveStatus(ctx, tx, p.Status, refreshed, out)
		}
		if !p.IsActive(req.Context.At) || !p.Matches(req.Context.Type) || !p.CanApplyTo(req.Context.Amount, req.Context.Type, req.Context.At) {
			return models.NewValidationError("promotion", fmt.Sprintf("promotion %s does not apply", p.ID))
		}
		reward, err := promotion.CalculateReward(p, req.Context.Amount)
		if err != nil {
			return err
		}
		grant, err = s.grant(ctx, tx, p, req.Context, reward, req.IdempotencyKey, out)
		return err
	})
	if errors.Is(err, models.ErrDuplicateIdempotencyKey) && req.IdempotencyKey != nil {
		err = s.store.RunInTx(ctx, func(tx store.Tx) error {
			prior, found, err := s.findApplication(ctx, tx, *req.IdempotencyKey, req)
			if err == nil && !found {
				err = fmt.Errorf("application for idempotency key %q vanished: %w", *req.IdempotencyKey, models.ErrConcurrentModification)
			}
			grant = prior
			return err
		})
	}
	if err != nil {
		return Grant{}, err
	}
	if expired != nil {
		return Grant{}, expired
	}
	return grant, nil
}

// resolve locks the promotion named by the request, or the best automatic
// match when the request names none.
func (s *PromotionService) resolve(ctx context.Context, tx store.Tx, req ApplyRequest) (models.Promotion, error) {
	switch {
	case req.PromotionID != "":
		return tx.GetPromotionForUpdate(ctx, req.PromotionID)
	case req.Code != "":
		p, err := tx.FindPromotionByCode(ctx, validator.NormalizePromotionCode(req.Code))
		if err != nil {
			return models.Promotion{}, err
		}
		return tx.GetPromotionForUpdate(ctx, p.ID)
	}
	active, err := tx.ListPromotions(ctx, store.PromotionFilter{Statuses: []models.PromotionStatus{models.StatusActive}})
	if err != nil {
		return models.Promotion{}, err
	}
	best, found, err := promotion.ApplyBest(withoutCode(active), req.Context)
	if err != nil {
		return models.Promotion{}, err
	}
	if !found {
		return models.Promotion{}, &models.NotFoundError{Kind: "applicable promotion", ID: string(req.Context.Type)}
	}
	return tx.GetPromotionForUpdate(ctx, best.Promotion.ID)
}

// withoutCode drops promotions that are only granted on presentation of
// their code.
func withoutCode(promotions []models.Promotion) []models.Promotion {
	out := make([]models.Promotion, 0, len(promotions))
	for _, p := range promotions {
		if p.Code == nil {
			out = append(out, p)
		}
	}
	return out
}

func (s *PromotionService) findApplication(ctx context.Context, tx store.Tx, key string, req ApplyRequest) (Grant, bool, error) {
	app, found, err := tx.FindApplicationByIdempotencyKey(ctx, key)
	if err != nil || !found {
		return Grant{}, false, err
	}
	if app.UserID != req.Context.UserID || (req.PromotionID != "" && app.PromotionID != req.PromotionID) {
		return Grant{}, false, &models.IdempotencyConflictError{Key: key}
	}
	p, err := tx.GetPromotionForUpdate(ctx, app.PromotionID)
	if err != nil {
		return Grant{}, false, err
	}
	if req.Code != "" && (p.Code == nil || *p.Code != validator.NormalizePromotionCode(req.Code)) {
		return Grant{}, false, &models.IdempotencyConflictError{Key: key}
	}
	return Grant{Promotion: p, Application: app, Reward: app.CreditsAwarded, Replayed: true}, true, nil
}

// grant counts one usage of a locked promotion and records the application.
// A key that already has an application is returned as a replay.
func (s *PromotionService) grant(ctx context.Context, tx store.Tx, p models.Promotion, pctx promotion.Context, reward money.Money, key *string, out *outbox) (Grant, error) {
	if key != nil {
		app, found, err := tx.FindApplicationByIdempotencyKey(ctx, *key)
		if err != nil {
			return Grant{}, err
		}
		if found {
			if app.PromotionID != p.ID || app.UserID != pctx.UserID {
				return Grant{}, &models.IdempotencyConflictError{Key: *key}
			}
			return Grant{Promotion: p, Application: app, Reward: app.CreditsAwarded, Replayed: true}, nil
		}
	}

	now := s.now()
	used, err := p.RecordUsage(pctx.At)
	if err != nil {
		return Grant{}, err
	}
	used.UpdatedAt = now
	if err := tx.UpdatePromotion(ctx, used); err != nil {
		return Grant{}, err
	}
	meta := pctx.Metadata.Clone()
	meta["context_type"] = string(pctx.Type)
	meta["amount"] = pctx.Amount.Format()
	app := models.PromotionApplication{
		ID:             s.newID(),
		PromotionID:    p.ID,
		UserID:         pctx.UserID,
		CreditsAwarded: reward,
		Metadata:       meta,
		IdempotencyKey: key,
		AppliedAt:      now,
	}
	if err := tx.InsertApplication(ctx, app); err != nil {
		return Grant{}, err
	}
	if err := s.audit(ctx, tx, models.AuditPromotionApplied, pctx.UserID, &reward, app.ID, models.Metadata{
		"promotion_id": p.ID,
		"context_type": string(pctx.Type),
	}); err != nil {
		return Grant{}, err
	}
	out.add(events.New(events.PromotionApplied, p.ID, int64(used.UsageCount), map[string]any{
		"promotion_id":   p.ID,
		"application_id": app.ID,
		"user_id":        pctx.UserID,
		"reward":         reward.Format(),
		"currency":       reward.Currency(),
		"discount":       p.IsDiscount(),
	}, now))
	if used.Status != p.Status {
		if err := s.audit(ctx, tx, models.AuditPromotionStatus, "", nil, p.ID, models.Metadata{
			"promotion_id": p.ID,
			"from":         string(p.Status),
			"to":           string(used.Status),
		}); err != nil {
			return Grant{}, err
		}
		out.add(statusEvent(used, p.Status, now))
	}
	s.logger.WithFields(logrus.Fields{
		"promotion_id": p.ID,
		"user_id":      pctx.UserID,
		"reward":       reward.String(),
	}).Debug("promotion applied")
	return Grant{Promotion: used, Application: app, Reward: reward}, nil
}
