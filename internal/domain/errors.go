package domain

import (
	"fmt"
)

type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Err:        err,
	}
}

// Pre-defined errors
var (
	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		StatusCode: 500,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: 400,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: 404,
	}

	ErrRuleNotFound = &AppError{
		Code:       "RULE_NOT_FOUND",
		Message:    "Alert rule not found",
		StatusCode: 404,
	}

	ErrRuleInvalid = &AppError{
		Code:       "RULE_INVALID",
		Message:    "Alert rule validation failed",
		StatusCode: 422,
	}

	ErrAlertNotFound = &AppError{
		Code:       "ALERT_NOT_FOUND",
		Message:    "Alert instance not found",
		StatusCode: 404,
	}

	ErrAlertTransition = &AppError{
		Code:       "ALERT_INVALID_TRANSITION",
		Message:    "Alert status can only move forward (active, acknowledged, resolved)",
		StatusCode: 409,
	}

	ErrEventInvalid = &AppError{
		Code:       "EVENT_INVALID",
		Message:    "Telemetry event validation failed",
		StatusCode: 422,
	}

	ErrSessionNotFound = &AppError{
		Code:       "SESSION_NOT_FOUND",
		Message:    "Client session not found",
		StatusCode: 404,
	}

	ErrUnknownAction = &AppError{
		Code:       "UNKNOWN_ACTION",
		Message:    "Unknown message action",
		StatusCode: 400,
	}

	ErrReplayInvalid = &AppError{
		Code:       "REPLAY_INVALID",
		Message:    "Replay configuration is invalid",
		StatusCode: 422,
	}

	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Rate limit exceeded, please try again later",
		StatusCode: 429,
	}

	ErrValidationFailed = &AppError{
		Code:       "VALIDATION_FAILED",
		Message:    "Request validation failed",
		StatusCode: 422,
	}
)
