package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrderIntent   ErrorCode = 102
	ErrCodeInvalidStopPrice     ErrorCode = 103
	ErrCodeInvalidQuantity      ErrorCode = 104
	ErrCodeMissingParameter     ErrorCode = 105

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound    ErrorCode = 200
	ErrCodeQueryFailed     ErrorCode = 201
	ErrCodeSnapshotFailed  ErrorCode = 202
	ErrCodeHistoryFailed   ErrorCode = 203
	ErrCodeRecoveryFailed  ErrorCode = 204
	ErrCodeStoreInitFailed ErrorCode = 205

	// Engine errors (300-399)
	ErrCodeEngineInitFailed  ErrorCode = 300
	ErrCodeEngineNotRunning  ErrorCode = 301
	ErrCodeCircuitOpen       ErrorCode = 302
	ErrCodeCallbackFailed    ErrorCode = 303
	ErrCodeSignalSourceError ErrorCode = 304

	// Portfolio and order errors (500-509)
	ErrCodeInsufficientFunds     ErrorCode = 500
	ErrCodePositionLimitExceeded ErrorCode = 501
	ErrCodePositionNotFound      ErrorCode = 502
	ErrCodeOrderFailed           ErrorCode = 503
	ErrCodeOrderTimedOut         ErrorCode = 504
	ErrCodeStopNotFound          ErrorCode = 505
	ErrCodeStopCreateFailed      ErrorCode = 506
	ErrCodeStopCancelFailed      ErrorCode = 507

	// Risk errors (510-519)
	ErrCodeMarginInsufficient    ErrorCode = 510
	ErrCodeCorrelationConflict   ErrorCode = 511
	ErrCodeExposureLimitExceeded ErrorCode = 512

	// Gateway errors (520-599)
	ErrCodeRateLimitTimeout   ErrorCode = 520
	ErrCodeGatewayUnavailable ErrorCode = 521
	ErrCodeGatewayRejected    ErrorCode = 522
)

// riskRejectionCodes are the codes the risk gate and the portfolio store
// surface to callers as a rejected trade. Rejections are terminal for the
// iteration and never retried.
var riskRejectionCodes = map[ErrorCode]bool{
	ErrCodeInsufficientFunds:     true,
	ErrCodePositionLimitExceeded: true,
	ErrCodeMarginInsufficient:    true,
	ErrCodeCorrelationConflict:   true,
	ErrCodeExposureLimitExceeded: true,
}

// IsRiskRejection reports whether err is a risk-gate or position-limit
// rejection rather than an operational failure.
func IsRiskRejection(err error) bool {
	return riskRejectionCodes[GetCode(err)]
}

// IsRetryable reports whether the operation that produced err may be retried
// at the gateway boundary. Risk rejections and validation failures are final.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case ErrCodeGatewayUnavailable, ErrCodeRateLimitTimeout, ErrCodeQueryFailed:
		return true
	default:
		return false
	}
}
