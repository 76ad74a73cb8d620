package ports

import (
	"errors"
	"fmt"
)

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Trade pipeline taxonomy
	ErrValidation           = errors.New("validation failed")
	ErrMissingRequiredField = fmt.Errorf("missing required field: %w", ErrValidation)
	ErrComplianceViolation  = errors.New("order violates exchange trading rules")
	ErrPartialExecution     = errors.New("entry placed but protective orders incomplete")
	ErrTradeNotOpen         = errors.New("trade is not open")

	// Exchange Specific Errors
	ErrExchangeRejected     = errors.New("exchange rejected the request")
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrPositionNotFound     = errors.New("position not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")
	ErrNoChangeNeeded       = errors.New("exchange setting already at requested value")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)

// ExchangeError keeps the venue's code and message verbatim for the trade record.
type ExchangeError struct {
	Code    int64
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("<APIError> code=%d, msg=%s", e.Code, e.Message)
}

// IsTransient reports whether err is a timeout or connection failure eligible for retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrExchangeUnavailable)
}

// VenueMessage extracts the exchange's own message from err, falling back to err.Error().
func VenueMessage(err error) string {
	if err == nil {
		return ""
	}
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Message
	}
	return err.Error()
}
