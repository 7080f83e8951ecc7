package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrInvalidUserID         = errors.New("invalid user id")
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	ErrInvalidPromotionCode  = errors.New("invalid promotion code")
	ErrInvalidReferenceID    = errors.New("invalid reference id")
)

var (
	identifierRegex     = regexp.MustCompile(`^[a-zA-Z0-9_-]{10,50}$`)
	idempotencyKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9_:.-]{1,128}$`)
	promotionCodeRegex  = regexp.MustCompile(`^[A-Z0-9_-]{3,32}$`)
	referenceIDRegex    = regexp.MustCompile(`^[a-zA-Z0-9_:./-]{1,100}$`)
)

func ValidateUserID(id string) error {
	if !identifierRegex.MatchString(id) {
		return ErrInvalidUserID
	}
	return nil
}

func ValidateIdempotencyKey(key string) error {
	if !idempotencyKeyRegex.MatchString(key) {
		return ErrInvalidIdempotencyKey
	}
	return nil
}

func ValidateReferenceID(id string) error {
	if !referenceIDRegex.MatchString(id) {
		return ErrInvalidReferenceID
	}
	return nil
}

// NormalizePromotionCode upper-cases and trims a user-typed code.
func NormalizePromotionCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidatePromotionCode(code string) error {
	if !promotionCodeRegex.MatchString(code) {
		return ErrInvalidPromotionCode
	}
	return nil
}
