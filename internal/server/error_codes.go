package server

const (
	// Validation (1xxx)
	ErrCodeInvalidArgument      = 1000
	ErrCodeInvalidMultipart     = 1001
	ErrCodeRequestTooLarge      = 1002
	ErrCodeInvalidID            = 1004
	ErrCodeMissingRequired      = 1009
	ErrCodeUnsupportedMediaType = 1015

	// Domain state (2xxx)
	ErrCodeImageNotFound  = 2001
	ErrCodePresetNotFound = 2002

	// Auth & limits (3xxx)
	ErrCodeUnauthorized      = 3001
	ErrCodeResourceExhausted = 3003

	// Internal/system (4xxx)
	ErrCodeInternal         = 4001
	ErrCodeStoreUnavailable = 4002
)

func defaultErrorCodeByStatus(status int) int {
	switch status {
	case 400:
		return ErrCodeInvalidArgument
	case 401:
		return ErrCodeUnauthorized
	case 404:
		return ErrCodeImageNotFound
	case 413:
		return ErrCodeRequestTooLarge
	case 415:
		return ErrCodeUnsupportedMediaType
	case 429:
		return ErrCodeResourceExhausted
	case 500:
		return ErrCodeInternal
	case 503:
		return ErrCodeStoreUnavailable
	default:
		return 0
	}
}
