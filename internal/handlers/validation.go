package handlers

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"credits/internal/models"
	"credits/internal/store"
)

func queryInt(values url.Values, key string) (int, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.NewValidationError(key, "must be an integer")
	}
	return parsed, nil
}

func queryTime(values url.Values, key string) (*time.Time, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, models.NewValidationError(key, "must be an RFC3339 timestamp")
	}
	return &parsed, nil
}

func historyFilter(values url.Values) (models.HistoryFilter, error) {
	var (
		filter models.HistoryFilter
		err    error
	)
	if filter.Limit, err = queryInt(values, "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = queryInt(values, "offset"); err != nil {
		return filter, err
	}
	if filter.FromDate, err = queryTime(values, "from"); err != nil {
		return filter, err
	}
	if filter.ToDate, err = queryTime(values, "to"); err != nil {
		return filter, err
	}
	return filter, nil
}

func auditFilter(values url.Values) (store.AuditFilter, error) {
	var (
		filter store.AuditFilter
		err    error
	)
	if filter.Limit, err = queryInt(values, "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = queryInt(values, "offset"); err != nil {
		return filter, err
	}
	if userID := strings.TrimSpace(values.Get("user_id")); userID != "" {
		filter.UserID = &userID
	}
	if action := strings.TrimSpace(values.Get("action")); action != "" {
		a := models.AuditAction(action)
		filter.Action = &a
	}
	return filter, nil
}

func promotionFilter(values url.Values) store.PromotionFilter {
	var filter store.PromotionFilter
	for _, raw := range values["status"] {
		for _, status := range strings.Split(raw, ",") {
			if status = strings.ToUpper(strings.TrimSpace(status)); status != "" {
				filter.Statuses = append(filter.Statuses, models.PromotionStatus(status))
			}
		}
	}
	return filter
}
