package errors

// Category classifies an error by the subsystem behavior it triggers.
type Category string

const (
	// CategoryValidation covers bad input from callers: invalid paths,
	// unsupported models, overlapping folders, bad extraction params.
	// Reported to the caller, never retried.
	CategoryValidation Category = "validation"

	// CategoryResource covers files that cannot be processed as-is:
	// too large, missing, permission denied. Files are marked skipped.
	CategoryResource Category = "resource"

	// CategoryCorruption covers content the parser or worker rejects as
	// malformed. Terminal for that content hash.
	CategoryCorruption Category = "corruption"

	// CategoryTransient covers timeouts and busy resources. Retried with
	// back-off up to the attempt limit.
	CategoryTransient Category = "transient"

	// CategoryWorker covers embedding worker crashes and unresponsiveness.
	CategoryWorker Category = "worker"

	// CategoryProtocol covers malformed control-plane frames.
	CategoryProtocol Category = "protocol"

	// CategoryInternal covers unexpected failures.
	CategoryInternal Category = "internal"
)

// Severity indicates how an error should be handled by the caller.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// Error codes. The numeric band encodes the category:
// 1xx validation, 2xx resource, 3xx corruption, 4xx transient,
// 5xx worker, 6xx protocol, 9xx internal.
const (
	ErrCodeInvalidInput      = "ERR_100_INVALID_INPUT"
	ErrCodeInvalidPath       = "ERR_101_INVALID_PATH"
	ErrCodeUnsupportedModel  = "ERR_102_UNSUPPORTED_MODEL"
	ErrCodeFolderOverlap     = "ERR_103_FOLDER_OVERLAP"
	ErrCodeInvalidParams     = "ERR_104_INVALID_EXTRACTION_PARAMS"
	ErrCodeFileNotFound      = "ERR_200_FILE_NOT_FOUND"
	ErrCodeFileTooLarge      = "ERR_201_FILE_TOO_LARGE"
	ErrCodePermissionDenied  = "ERR_202_PERMISSION_DENIED"
	ErrCodeUnsupportedType   = "ERR_203_UNSUPPORTED_FILE_TYPE"
	ErrCodeCorruptFile       = "ERR_300_CORRUPT_FILE"
	ErrCodeParseTimeout      = "ERR_400_PARSE_TIMEOUT"
	ErrCodeEmbedTimeout      = "ERR_401_EMBED_TIMEOUT"
	ErrCodeStoreBusy         = "ERR_402_STORE_BUSY"
	ErrCodeWorkerCrashed     = "ERR_500_WORKER_CRASHED"
	ErrCodeWorkerTimeout     = "ERR_501_WORKER_TIMEOUT"
	ErrCodeModelLoadFailed   = "ERR_502_MODEL_LOAD_FAILED"
	ErrCodeWorkerSpawnFailed = "ERR_503_WORKER_SPAWN_FAILED"
	ErrCodeWorkerUnhealthy   = "ERR_504_WORKER_UNHEALTHY"
	ErrCodeWorkerBusy        = "ERR_505_WORKER_BUSY"
	ErrCodeEmbeddingFailed   = "ERR_506_EMBEDDING_FAILED"
	ErrCodeWorkerProtocol    = "ERR_507_WORKER_PROTOCOL"
	ErrCodeUnknownMessage    = "ERR_600_UNKNOWN_MESSAGE_TYPE"
	ErrCodeMalformedMessage  = "ERR_601_MALFORMED_MESSAGE"
	ErrCodeInternal          = "ERR_900_INTERNAL"
	ErrCodeAlreadyRunning    = "ERR_901_DAEMON_ALREADY_RUNNING"
	ErrCodeShuttingDown      = "ERR_902_SHUTTING_DOWN"
)

// categoryFromCode derives the category from the numeric band of a code.
func categoryFromCode(code string) Category {
	if len(code) < 5 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryValidation
	case '2':
		return CategoryResource
	case '3':
		return CategoryCorruption
	case '4':
		return CategoryTransient
	case '5':
		return CategoryWorker
	case '6':
		return CategoryProtocol
	default:
		return CategoryInternal
	}
}

// severityFromCode derives the severity from the code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeAlreadyRunning:
		return SeverityFatal
	case ErrCodeFileTooLarge, ErrCodePermissionDenied, ErrCodeUnsupportedType:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether operations failing with this code may be
// retried. Only transient codes are retryable.
func isRetryableCode(code string) bool {
	return categoryFromCode(code) == CategoryTransient
}
