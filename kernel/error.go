package kernel

// ErrorKind classifies the condition that triggered an Error.
type ErrorKind uint8

const (
	// KindUnspecified is used by errors that are not classified, such as
	// the ones raised by the Go runtime.
	KindUnspecified ErrorKind = iota

	// KindHardwareAbsent indicates that a required device or firmware
	// structure is not present.
	KindHardwareAbsent

	// KindMalformedFirmwareData indicates firmware-provided data that
	// fails validation.
	KindMalformedFirmwareData

	// KindResourceExhausted indicates that memory or a fixed-size table
	// ran out of space.
	KindResourceExhausted

	// KindInvariantViolation indicates a broken internal invariant or the
	// misuse of an API.
	KindInvariantViolation
)

// String implements fmt.Stringer for ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindHardwareAbsent:
		return "hardware absent"
	case KindMalformedFirmwareData:
		return "malformed firmware data"
	case KindResourceExhausted:
		return "resource exhausted"
	case KindInvariantViolation:
		return "invariant violation"
	default:
		return "unspecified"
	}
}

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure. This requirement stems
// from the fact that the Go allocator is not available during early boot so
// we cannot use errors.New.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string

	// Kind classifies the error. It is reported by the panic handler.
	Kind ErrorKind
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
