package errors

// Error categories
const (
	CategoryNone         Category = ""
	CategoryValidation   Category = "validation"
	CategoryConnectivity Category = "connectivity"
	CategoryPermission   Category = "permission"
	CategoryStreaming    Category = "streaming"
	CategoryPersistence  Category = "persistence"
	CategoryInternal     Category = "internal"
)

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidURL      ErrorCode = "invalid_backend_url"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Validation errors
	ErrNoFileSelected   ErrorCode = "no_file_selected"
	ErrInvalidVideoFile ErrorCode = "invalid_video_file"

	// Connectivity errors
	ErrBackendUnreachable ErrorCode = "backend_unreachable"
	ErrUploadRejected     ErrorCode = "upload_rejected"
	ErrTimeout            ErrorCode = "operation_timeout"

	// Permission errors
	ErrCameraPermission ErrorCode = "camera_permission_denied"

	// Streaming errors
	ErrStreamFailed   ErrorCode = "stream_failed"
	ErrStreamDial     ErrorCode = "stream_dial_failed"
	ErrInvalidMessage ErrorCode = "invalid_stream_message"

	// Persistence errors
	ErrPersistFailed ErrorCode = "persist_failed"
	ErrFetchFailed   ErrorCode = "fetch_failed"

	// Operation errors
	ErrInvalidOperation ErrorCode = "invalid_operation"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:           "Internal error occurred",
	ErrInvalidArgument:    "Invalid argument provided",
	ErrUnavailable:        "Service unavailable",
	ErrAlreadyRunning:     "Another instance is already running",
	ErrInvalidConfig:      "Invalid configuration",
	ErrReadConfig:         "Failed to read config file",
	ErrBindFlags:          "Failed to bind flags",
	ErrInvalidInterval:    "Invalid interval value",
	ErrInvalidURL:         "Invalid backend URL",
	ErrInvalidLogLevel:    "Invalid log level",
	ErrInitFailed:         "Initialization failed",
	ErrShutdownFailed:     "Shutdown failed",
	ErrNoFileSelected:     "No video file selected",
	ErrInvalidVideoFile:   "Please select a valid video file",
	ErrBackendUnreachable: "Cannot reach the analysis backend",
	ErrUploadRejected:     "Upload failed",
	ErrTimeout:            "Request timed out",
	ErrCameraPermission:   "Camera access denied",
	ErrStreamFailed:       "Streaming connection error",
	ErrStreamDial:         "Failed to open streaming connection",
	ErrInvalidMessage:     "Invalid streaming message",
	ErrPersistFailed:      "Failed to save analysis record",
	ErrFetchFailed:        "Failed to fetch analysis data",
	ErrInvalidOperation:   "Invalid operation",
}

var errorCategories = map[ErrorCode]Category{
	ErrNoFileSelected:     CategoryValidation,
	ErrInvalidVideoFile:   CategoryValidation,
	ErrBackendUnreachable: CategoryConnectivity,
	ErrUploadRejected:     CategoryConnectivity,
	ErrTimeout:            CategoryConnectivity,
	ErrCameraPermission:   CategoryPermission,
	ErrStreamFailed:       CategoryStreaming,
	ErrStreamDial:         CategoryStreaming,
	ErrInvalidMessage:     CategoryStreaming,
	ErrPersistFailed:      CategoryPersistence,
	ErrFetchFailed:        CategoryPersistence,
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}

// GetCategory returns the category for a given error code
func GetCategory(code ErrorCode) Category {
	if c, ok := errorCategories[code]; ok {
		return c
	}

	return CategoryInternal
}
