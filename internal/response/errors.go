package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Store ─────────────────────────────────────────────────────────
	ErrStoreClosed        ErrCode = "STORE_CLOSED"
	ErrStorageUnavailable ErrCode = "STORAGE_UNAVAILABLE"

	// ─── Uploads ───────────────────────────────────────────────────────
	ErrFileRequired ErrCode = "FILE_REQUIRED"
	ErrFileTooLarge ErrCode = "FILE_TOO_LARGE"

	// ─── Pipeline ──────────────────────────────────────────────────────
	ErrQueueDisabled      ErrCode = "QUEUE_DISABLED"
	ErrPipelineBusy       ErrCode = "PIPELINE_BUSY"
	ErrExtractionDisabled ErrCode = "EXTRACTION_DISABLED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Store ─────────────────────────────────────────────────────────
	case ErrStoreClosed:
		return "The schedule store is closed."
	case ErrStorageUnavailable:
		return "The schedule store is unavailable. Please try again later."

	// ─── Uploads ───────────────────────────────────────────────────────
	case ErrFileRequired:
		return "At least one file must be uploaded."
	case ErrFileTooLarge:
		return "File exceeds the size limit."

	// ─── Pipeline ──────────────────────────────────────────────────────
	case ErrQueueDisabled:
		return "The extraction queue is not configured."
	case ErrPipelineBusy:
		return "The pipeline is already running."
	case ErrExtractionDisabled:
		return "Extraction is disabled because no Gemini API key is configured."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
