package errors

// ErrorCode represents a unique identifier for each error type
type ErrorCode string

// Category groups error codes by how the session controller reacts to them
type Category string

// Error represents a domain-specific error with context
type Error interface {
	error
	Code() ErrorCode
	Category() Category
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory defines methods for creating domain errors
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
