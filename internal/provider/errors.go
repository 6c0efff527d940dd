package provider

import "fmt"

// Error is a typed vendor failure. It embeds the vendor error message
// so callers can log it without depending on vendor payload shapes.
type Error struct {
	Provider   ClientType
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s provider: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s provider: %s", e.Provider, e.Message)
}

func newError(clientType ClientType, status int, format string, args ...any) *Error {
	return &Error{
		Provider:   clientType,
		StatusCode: status,
		Message:    fmt.Sprintf(format, args...),
	}
}
