// Package errkind classifies daub's failures.
//
// Startup kinds (FileAccess, ConfigParse, UrlScheme) are fatal: the daemon
// must not start with an invalid configuration. Every other kind is
// operational and is handled where it occurs.
package errkind

import (
	"errors"
	"fmt"
)

// Kind identifies a failure category.
type Kind int

const (
	Unknown Kind = iota
	FileAccess
	ConfigParse
	UrlScheme
	StreamConnect
	StreamDecode
	CredentialInvalid
	RequestRejected
	Transport
)

var kindNames = map[Kind]string{
	Unknown:           "unknown",
	FileAccess:        "file_access",
	ConfigParse:       "config_parse",
	UrlScheme:         "url_scheme",
	StreamConnect:     "stream_connect",
	StreamDecode:      "stream_decode",
	CredentialInvalid: "credential_invalid",
	RequestRejected:   "request_rejected",
	Transport:         "transport",
}

// String returns the snake_case name used in logs and metrics.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Fatal reports whether a failure of this kind must stop startup.
func (k Kind) Fatal() bool {
	return k == FileAccess || k == ConfigParse || k == UrlScheme
}

// Error is a classified failure. Op names the operation that failed,
// e.g. "load config" or "dial stream".
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string. %w verbs are honoured.
func Errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or Unknown when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
