package klausurenweb

import (
	"errors"
	"fmt"
)

// Kind identifies the class of failure returned by the client.
type Kind string

const (
	// KindConnection covers transport failures such as DNS errors, refused connections and timeouts.
	KindConnection Kind = "connection"
	// KindAPI is returned when the service answered with an HTTP status >= 400.
	KindAPI Kind = "api"
	// KindInvalidResponse is returned when a successful response carries an unusable body.
	KindInvalidResponse Kind = "invalid_response"
	// KindConfiguration marks missing credentials, a missing lerncode or a rejected lerncode.
	KindConfiguration Kind = "configuration"
)

// Category groups error kinds by who can fix them.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryTransient     Category = "transient"
	CategoryPermanent     Category = "permanent"
)

const (
	timeoutHint     = "The connection to klausurenweb.de timed out. Evaluation can take up to five minutes, please try again later or check the result afterwards."
	unreachableHint = "The klausurenweb.de API could not be reached. Please check the internet connection and the API settings."
	apiHint         = "The klausurenweb.de API rejected the request."
	invalidHint     = "The klausurenweb.de API returned an unreadable response. Please report this to the administrator."
	configHint      = "The activity is not configured correctly. Please ask a teacher or administrator to check the API key and lerncode."
)

// Error is the single error type surfaced by the client. Callers branch on Kind.
type Error struct {
	Kind       Kind
	Op         string
	Timeout    bool
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	prefix := "klausurenweb"
	if e.Op != "" {
		prefix += " " + e.Op
	}

	var detail string
	switch e.Kind {
	case KindAPI:
		detail = fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
	case KindConnection:
		detail = "connection unreachable"
		if e.Timeout {
			detail = "connection timeout"
		}
	default:
		detail = string(e.Kind)
		if e.Message != "" {
			detail += ": " + e.Message
		}
	}

	msg := prefix + ": " + detail
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Category reports whether the error needs an admin, a retry, or a bug report.
func (e *Error) Category() Category {
	switch e.Kind {
	case KindConfiguration:
		return CategoryConfiguration
	case KindConnection:
		return CategoryTransient
	case KindAPI:
		if e.StatusCode >= 500 || e.StatusCode == 429 {
			return CategoryTransient
		}
		if e.StatusCode == 401 || e.StatusCode == 403 {
			return CategoryConfiguration
		}
		return CategoryPermanent
	default:
		return CategoryPermanent
	}
}

// Hint returns the human readable guidance shown to end users.
func (e *Error) Hint() string {
	switch e.Kind {
	case KindConnection:
		if e.Timeout {
			return timeoutHint
		}
		return unreachableHint
	case KindAPI:
		if e.Message != "" {
			return apiHint + " " + e.Message
		}
		return apiHint
	case KindConfiguration:
		if e.Message != "" {
			return configHint + " (" + e.Message + ")"
		}
		return configHint
	default:
		return invalidHint
	}
}

// NewConfigurationError builds a configuration error with the given message.
func NewConfigurationError(message string) *Error {
	return &Error{Kind: KindConfiguration, Message: message}
}

// AsError extracts a client error from err.
func AsError(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsKind reports whether err carries a client error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}

// IsTimeout reports whether err is a connection timeout.
func IsTimeout(err error) bool {
	e, ok := AsError(err)
	return ok && e.Kind == KindConnection && e.Timeout
}
