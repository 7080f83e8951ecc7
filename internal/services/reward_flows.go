package services

import (
	"context"
	"errors"
	"strings"

	"credits/internal/models"
	"credits/internal/money"
	"credits/internal/promotion"
	"credits/internal/store"
)

// The flows below grant promotion rewards in the same transaction as the
// ledger movement they belong to. Each step writes under a key derived from
// the caller's key, so a replayed request finds the original entries.

type FlowParams struct {
	UserID         string          `json:"user_id"`
	Amount         string          `json:"amount"`
	Currency       string          `json:"currency,omitempty"`
	ReferenceID    *string         `json:"reference_id,omitempty"`
	Metadata       models.Metadata `json:"metadata,omitempty"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
}

type SignupParams struct {
	UserID         string          `json:"user_id"`
	Currency       string          `json:"currency,omitempty"`
	Metadata       models.Metadata `json:"metadata,omitempty"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
}

type FlowResult struct {
	Success    bool                 `json:"success"`
	Entries    []models.LedgerEntry `json:"entries,omitempty"`
	Balance    *models.Balance      `json:"balance,omitempty"`
	Promotions []Grant              `json:"promotions,omitempty"`
	Charged    *money.Money         `json:"charged,omitempty"`
	Replayed   bool                 `json:"replayed"`
	Error      *OperationError      `json:"error,omitempty"`
}

func (r *FlowResult) add(p posting) {
	r.Entries = append(r.Entries, p.Entry)
	balance := p.Balance
	r.Balance = &balance
	r.Replayed = r.Replayed || p.Replayed
}

const (
	promotionIDsKey = "promotion_ids"
	referenceIDKey  = "charge_reference_id"
)

// TopUp credits the top-up amount and the best non-discount promotions for
// a TOPUP context.
func (s *CreditService) TopUp(ctx context.Context, params FlowParams) FlowResult {
	amount, err := s.parseMoney(params.Amount, params.Currency)
	if err != nil {
		return FlowResult{Error: s.failure(err)}
	}
	cmd := CreditCommand{
		UserID:         params.UserID,
		Amount:         amount,
		Reason:         models.ReasonTopup,
		ReferenceID:    params.ReferenceID,
		Metadata:       params.Metadata,
		IdempotencyKey: params.IdempotencyKey,
	}
	if err := cmd.validate(); err != nil {
		return FlowResult{Error: s.failure(err)}
	}
	cmd.IdempotencyKey = deriveKey(params.IdempotencyKey, "topup")

	var res FlowResult
	err = s.runFlow(ctx, func(tx store.Tx, out *outbox) error {
		res = FlowResult{}
		topup, err := s.ledger.apply(ctx, tx, models.EntryCredit, cmd, out)
		if err != nil {
			return err
		}
		res.add(topup)
		if topup.Replayed {
			return s.replayBonus(ctx, tx, params.UserID, params.IdempotencyKey, &res)
		}
		pctx := promotion.Context{
			UserID:   params.UserID,
			Amount:   amount,
			Type:     models.ContextTopup,
			Metadata: params.Metadata,
			At:       s.ledger.now(),
		}
		grants, err := s.grantSelected(ctx, tx, pctx, notDiscount, params.IdempotencyKey, out)
		if err != nil {
			return err
		}
		res.Promotions = grants
		return s.creditBonus(ctx, tx, params.UserID, amount.Currency(), grants, &topup.Entry.ID, params.IdempotencyKey, out, &res)
	})
	return s.finish(res, err)
}

// Signup opens the account and grants the best SIGNUP promotions. The bonus
// is only granted when the account is created by this call.
func (s *CreditService) Signup(ctx context.Context, params SignupParams) FlowResult {
	if err := models.ValidateUserID(params.UserID); err != nil {
		return FlowResult{Error: s.failure(err)}
	}
	if err := validateKey(params.IdempotencyKey); err != nil {
		return FlowResult{Error: s.failure(err)}
	}
	currency := strings.ToUpper(params.Currency)
	if currency == "" {
		currency = s.ledger.defaultCurrency
	}
	zero, err := money.Zero(currency)
	if err != nil {
		return FlowResult{Error: s.failure(models.NewValidationError("currency", err.Error()))}
	}
	key := params.IdempotencyKey
	if key == nil {
		key = ptr("signup:" + params.UserID)
	}

	var res FlowResult
	err = s.runFlow(ctx, func(tx store.Tx, out *outbox) error {
		res = FlowResult{}
		balance, created, err := s.ledger.open(ctx, tx, params.UserID, currency, out)
		if err != nil {
			return err
		}
		res.Balance = &balance
		if !created {
			if balance.Amount.Currency() != currency {
				return models.NewValidationError("currency", "account is held in "+balance.Amount.Currency())
			}
			res.Replayed = true
			return s.replayBonus(ctx, tx, params.UserID, key, &res)
		}
		pctx := promotion.Context{
			UserID:   params.UserID,
			Amount:   zero,
			Type:     models.ContextSignup,
			Metadata: params.Metadata,
			At:       s.ledger.now(),
		}
		grants, err := s.grantSelected(ctx, tx, pctx, notDiscount, key, out)
		if err != nil {
			return err
		}
		res.Promotions = grants
		return s.creditBonus(ctx, tx, params.UserID, currency, grants, nil, key, out, &res)
	})
	return s.finish(res, err)
}

// ChargeReservation debits a reservation after applying the best
// RESERVATION promotions. Discounts lower the debit (never below zero);
// bonuses are credited after the debit. Insufficient funds undo everything.
func (s *CreditService) ChargeReservation(ctx context.Context, params FlowParams) FlowResult {
	amount, err := s.parseMoney(params.Amount, params.Currency)
	if err != nil {
		return FlowResult{Error: s.failure(err)}
	}
	base := CreditCommand{
		UserID:         params.UserID,
		Amount:         amount,
		Reason:         models.ReasonReservationPayment,
		ReferenceID:    params.ReferenceID,
		IdempotencyKey: params.IdempotencyKey,
	}
	if err := base.validate(); err != nil {
		return FlowResult{Error: s.failure(err)}
	}
	base.IdempotencyKey = deriveKey(params.IdempotencyKey, "charge")

	var res FlowResult
	err = s.runFlow(ctx, func(tx store.Tx, out *outbox) error {
		res = FlowResult{}
		balance, err := tx.GetBalanceForUpdate(ctx, params.UserID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return &models.NotFoundError{Kind: "user", ID: params.UserID}
			}
			return err
		}
		res.Balance = &balance

		if params.IdempotencyKey != nil {
			replayed, err := s.replayCharge(ctx, tx, params, amount, balance, &res)
			if err != nil || replayed {
				return err
			}
		}

		pctx := promotion.Context{
			UserID:   params.UserID,
			Amount:   amount,
			Type:     models.ContextReservation,
			Metadata: params.Metadata.Clone(),
			At:       s.ledger.now(),
		}
		delete(pctx.Metadata, referenceIDKey)
		if params.ReferenceID != nil {
			pctx.Metadata[referenceIDKey] = *params.ReferenceID
		}
		grants, err := s.grantSelected(ctx, tx, pctx, nil, params.IdempotencyKey, out)
		if err != nil {
			return err
		}
		res.Promotions = grants

		discounts, bonuses := splitGrants(grants)
		discount, err := sumGrants(discounts, amount.Currency())
		if err != nil {
			return err
		}
		charge, err := promotion.Total(amount, discount, true)
		if err != nil {
			return err
		}
		res.Charged = &charge

		var chargeID *string
		if charge.IsPositive() {
			cmd := base
			cmd.Amount = charge
			cmd.Metadata = params.Metadata.Clone()
			cmd.Metadata["original_amount"] = amount.Format()
			cmd.Metadata["discount"] = discount.Format()
			debit, err := s.ledger.apply(ctx, tx, models.EntryDebit, cmd, out)
			if err != nil {
				return err
			}
			res.add(debit)
			chargeID = &debit.Entry.ID
		}
		return s.creditBonus(ctx, tx, params.UserID, amount.Currency(), bonuses, chargeID, params.IdempotencyKey, out, &res)
	})
	return s.finish(res, err)
}

// replayCharge rebuilds the result of an earlier charge under the same key
// from its debit entry and its promotion applications. A fully discounted
// charge wrote no debit, so its applications alone mark it as done.
func (s *CreditService) replayCharge(ctx context.Context, tx store.Tx, params FlowParams, amount money.Money, balance models.Balance, res *FlowResult) (bool, error) {
	key := *params.IdempotencyKey
	conflict := &models.IdempotencyConflictError{Key: key}

	debit, debited, err := tx.FindEntryByIdempotencyKey(ctx, *deriveKey(params.IdempotencyKey, "charge"))
	if err != nil {
		return false, err
	}
	if debited && (debit.UserID != params.UserID ||
		debit.Kind != models.EntryDebit ||
		debit.Metadata["original_amount"] != amount.Format() ||
		!samePtr(debit.ReferenceID, params.ReferenceID)) {
		return false, conflict
	}

	applications, err := tx.ListApplications(ctx, params.UserID)
	if err != nil {
		return false, err
	}
	prefix := *deriveKey(params.IdempotencyKey, "promotion") + ":"
	var grants []Grant
	for _, app := range applications {
		if app.IdempotencyKey == nil || !strings.HasPrefix(*app.IdempotencyKey, prefix) {
			continue
		}
		ref, hasRef := app.Metadata[referenceIDKey].(string)
		if app.Metadata["context_type"] != string(models.ContextReservation) ||
			app.Metadata["amount"] != amount.Format() ||
			hasRef != (params.ReferenceID != nil) ||
			(hasRef && ref != *params.ReferenceID) {
			return false, conflict
		}
		p, err := tx.GetPromotionForUpdate(ctx, app.PromotionID)
		if err != nil {
			return false, err
		}
		grants = append(grants, Grant{Promotion: p, Application: app, Reward: app.CreditsAwarded, Replayed: true})
	}
	if !debited && len(grants) == 0 {
		return false, nil
	}

	res.Replayed = true
	res.Promotions = grants
	if debited {
		res.add(posting{Entry: debit, Balance: balance, Replayed: true})
		res.Charged = &debit.Amount
	} else {
		discounts, _ := splitGrants(grants)
		discount, err := sumGrants(discounts, amount.Currency())
		if err != nil {
			return false, err
		}
		charged, err := promotion.Total(amount, discount, true)
		if err != nil {
			return false, err
		}
		res.Charged = &charged
	}
	if err := s.replayBonusEntry(ctx, tx, params.UserID, params.IdempotencyKey, res); err != nil {
		return false, err
	}
	return true, nil
}

func splitGrants(grants []Grant) (discounts, bonuses []Grant) {
	for _, g := range grants {
		if g.Promotion.IsDiscount() {
			discounts = append(discounts, g)
		} else {
			bonuses = append(bonuses, g)
		}
	}
	return discounts, bonuses
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// runFlow retries a flow once when it lost an idempotency race, so the
// second run observes the winner's rows as a replay.
func (s *CreditService) runFlow(ctx context.Context, fn func(tx store.Tx, out *outbox) error) error {
	err := s.ledger.runTx(ctx, fn)
	if errors.Is(err, models.ErrDuplicateIdempotencyKey) {
		err = s.ledger.runTx(ctx, fn)
	}
	return err
}

func (s *CreditService) finish(res FlowResult, err error) FlowResult {
	if err != nil {
		return FlowResult{Error: s.failure(err)}
	}
	res.Success = true
	return res
}

func notDiscount(p models.Promotion) bool { return !p.IsDiscount() }

// grantSelected runs the selection policy over the active promotions without
// a code that pass keep, and grants each selected one.
func (s *CreditService) grantSelected(ctx context.Context, tx store.Tx, pctx promotion.Context, keep func(models.Promotion) bool, key *string, out *outbox) ([]Grant, error) {
	active, err := tx.ListPromotions(ctx, store.PromotionFilter{Statuses: []models.PromotionStatus{models.StatusActive}})
	if err != nil {
		return nil, err
	}
	candidates := make([]models.Promotion, 0, len(active))
	for _, p := range withoutCode(active) {
		if keep == nil || keep(p) {
			candidates = append(candidates, p)
		}
	}
	selected, err := promotion.Select(candidates, pctx)
	if err != nil {
		return nil, err
	}
	grants := make([]Grant, 0, len(selected))
	for _, r := range selected {
		locked, err := tx.GetPromotionForUpdate(ctx, r.Promotion.ID)
		if err != nil {
			return nil, err
		}
		if !locked.IsActive(pctx.At) {
			continue
		}
		g, err := s.promotions.grant(ctx, tx, locked, pctx, r.Reward, deriveKey(key, "promotion", locked.ID), out)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, nil
}

// creditBonus credits the summed non-discount rewards as one PROMOTION entry.
func (s *CreditService) creditBonus(ctx context.Context, tx store.Tx, userID, currency string, grants []Grant, referenceID *string, key *string, out *outbox, res *FlowResult) error {
	total, err := sumGrants(grants, currency)
	if err != nil || !total.IsPositive() {
		return err
	}
	ids := make([]string, len(grants))
	for i, g := range grants {
		ids[i] = g.Promotion.ID
	}
	bonus, err := s.ledger.apply(ctx, tx, models.EntryCredit, CreditCommand{
		UserID:         userID,
		Amount:         total,
		Reason:         models.ReasonPromotion,
		ReferenceID:    referenceID,
		Metadata:       models.Metadata{promotionIDsKey: strings.Join(ids, ",")},
		IdempotencyKey: deriveKey(key, "promotion"),
	}, out)
	if err != nil {
		return err
	}
	res.add(bonus)
	return nil
}

// replayBonus adds the bonus entry and grants of an earlier run of the flow.
func (s *CreditService) replayBonus(ctx context.Context, tx store.Tx, userID string, key *string, res *FlowResult) error {
	entry, found, err := s.findBonus(ctx, tx, userID, key)
	if err != nil || !found {
		return err
	}
	if err := s.addBonus(ctx, tx, userID, entry, res); err != nil {
		return err
	}

	ids, _ := entry.Metadata[promotionIDsKey].(string)
	for _, id := range strings.Split(ids, ",") {
		if id == "" {
			continue
		}
		app, found, err := tx.FindApplicationByIdempotencyKey(ctx, *deriveKey(key, "promotion", id))
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		p, err := tx.GetPromotionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		res.Promotions = append(res.Promotions, Grant{Promotion: p, Application: app, Reward: app.CreditsAwarded, Replayed: true})
	}
	return nil
}

// replayBonusEntry adds only the bonus entry; the caller already has the grants.
func (s *CreditService) replayBonusEntry(ctx context.Context, tx store.Tx, userID string, key *string, res *FlowResult) error {
	entry, found, err := s.findBonus(ctx, tx, userID, key)
	if err != nil || !found {
		return err
	}
	return s.addBonus(ctx, tx, userID, entry, res)
}

func (s *CreditService) findBonus(ctx context.Context, tx store.Tx, userID string, key *string) (models.LedgerEntry, bool, error) {
	bonusKey := deriveKey(key, "promotion")
	if bonusKey == nil {
		return models.LedgerEntry{}, false, nil
	}
	entry, found, err := tx.FindEntryByIdempotencyKey(ctx, *bonusKey)
	if err != nil || !found {
		return models.LedgerEntry{}, false, err
	}
	if entry.UserID != userID {
		return models.LedgerEntry{}, false, &models.IdempotencyConflictError{Key: *key}
	}
	return entry, true, nil
}

func (s *CreditService) addBonus(ctx context.Context, tx store.Tx, userID string, entry models.LedgerEntry, res *FlowResult) error {
	balance, err := tx.GetBalanceForUpdate(ctx, userID)
	if err != nil {
		return err
	}
	res.add(posting{Entry: entry, Balance: balance, Replayed: true})
	return nil
}

func sumGrants(grants []Grant, currency string) (money.Money, error) {
	results := make([]promotion.Result, len(grants))
	for i, g := range grants {
		results[i] = promotion.Result{Promotion: g.Promotion, Reward: g.Reward}
	}
	return promotion.Sum(results, currency)
}
