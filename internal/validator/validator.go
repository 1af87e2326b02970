package validator

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidRedeemCode = errors.New("invalid redeem code")
	ErrInvalidRequestID  = errors.New("invalid request id")
	ErrInvalidReason     = errors.New("invalid reason")
	ErrInvalidUserID     = errors.New("invalid user id")
)

var (
	redeemCodeRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{3,63}$`)
	requestIDRegex  = regexp.MustCompile(`^[A-Za-z0-9:._\-]{1,128}$`)
	userIDRegex     = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)
)

const maxReasonLength = 500

// ValidateRedeemCode expects an already normalized (upper-case) code.
func ValidateRedeemCode(code string) error {
	if !redeemCodeRegex.MatchString(code) {
		return ErrInvalidRedeemCode
	}
	return nil
}

func ValidateRequestID(requestID string) error {
	if !requestIDRegex.MatchString(requestID) {
		return ErrInvalidRequestID
	}
	return nil
}

func ValidateUserID(userID string) error {
	if !userIDRegex.MatchString(userID) {
		return ErrInvalidUserID
	}
	return nil
}

func ValidateReason(reason string) error {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > maxReasonLength {
		return ErrInvalidReason
	}
	return nil
}
