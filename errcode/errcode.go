package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK    Code = "ok"
	Error Code = "error" // generic fallback

	// Command handling
	InvalidCommand   Code = "invalid_command"
	VersionMismatch  Code = "version_mismatch"
	UnknownParameter Code = "unknown_parameter"
	QueueFull        Code = "queue_full"

	// Value decoding
	DecodeFailed Code = "decode_failed"
	TypeMismatch Code = "type_mismatch"
	OutOfLimits  Code = "out_of_limits"
	InvalidEnum  Code = "invalid_enum"
	InvalidLen   Code = "invalid_length"

	// Component verification
	VerificationFailed Code = "verification_failed"

	// Topology (fatal at configuration time)
	DuplicateName Code = "duplicate_name"
	InvalidName   Code = "invalid_name"
	InvalidLimits Code = "invalid_limits"
	OutOfBounds   Code = "out_of_bounds"

	// Transport
	FrameTooLarge Code = "frame_too_large"
	Timeout       Code = "timeout"
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.X) match a wrapped code.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
