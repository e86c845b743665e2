package endpoint

import (
	"errors"
	"fmt"
)

// Kind classifies a failed fetch.
type Kind int

const (
	// ConnectionFailure means the transport could not be established.
	ConnectionFailure Kind = iota + 1
	// RemoteFault means the agent returned an error or did not answer in time.
	RemoteFault
)

func (k Kind) String() string {
	switch k {
	case ConnectionFailure:
		return "connection_failure"
	case RemoteFault:
		return "remote_fault"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against a *FetchError.
var (
	ErrConnectionFailure = errors.New("connection failure")
	ErrRemoteFault       = errors.New("remote fault")
)

// FetchError is the typed failure returned by Connection.Fetch.
type FetchError struct {
	Kind     Kind
	Endpoint string
	Detail   string
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Endpoint, e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Endpoint, e.Kind, e.Detail)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrConnectionFailure:
		return e.Kind == ConnectionFailure
	case ErrRemoteFault:
		return e.Kind == RemoteFault
	}
	return false
}

// Reason is the short failure text recorded in poll results.
func (e *FetchError) Reason() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	return e.Detail
}
