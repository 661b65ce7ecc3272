package receipt

import (
	"errors"
	"fmt"
)

// ErrNoReceiptData means the device holds no receipt at all. It is the only
// fetch failure that callers treat as "not subscribed" rather than an error.
var ErrNoReceiptData = errors.New("no receipt data")

// ErrorKind categorises a validation failure.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindStatus    ErrorKind = "status"
	KindDecode    ErrorKind = "decode"
	KindSource    ErrorKind = "source"
	KindInternal  ErrorKind = "internal"
)

// ValidationError is any receipt fetch failure other than ErrNoReceiptData.
type ValidationError struct {
	Kind ErrorKind
	Op   string
	// Status is the validation endpoint's status code, when it returned one.
	Status int
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "receipt validation"
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s failed with status %d", msg, e.Status)
	} else {
		msg += " failed"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// classify keeps ErrNoReceiptData and *ValidationError intact and wraps
// everything else so callers can rely on errors.As.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNoReceiptData) {
		return ErrNoReceiptData
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return err
	}
	return &ValidationError{Kind: KindInternal, Op: op, Err: err}
}
