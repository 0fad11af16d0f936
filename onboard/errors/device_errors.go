package errors

import (
	"errors"
	"fmt"
	"time"
)

type OutOfRangeError struct {
	Actuator        int
	Field           string
	Value, Min, Max float64
}

func (err OutOfRangeError) Error() string {
	return fmt.Sprintf("actuator %d: %s %g outside range [%g, %g]",
		err.Actuator, err.Field, err.Value, err.Min, err.Max)
}

type InvalidTransitionError struct {
	Actuator int
	From     string
	Op       string
}

func (err InvalidTransitionError) Error() string {
	if len(err.Op) == 0 {
		err.Op = "UNKNOWN"
	}
	return fmt.Sprintf("actuator %d: cannot %s while %s", err.Actuator, err.Op, err.From)
}

type TimeoutError struct {
	Channel string
	Elapsed time.Duration
}

func (err TimeoutError) Error() string {
	return fmt.Sprintf("channel %s: no response within %s", err.Channel, err.Elapsed)
}

type TransportError struct {
	Channel string
	Cause   error
}

func (err TransportError) Error() string {
	return fmt.Sprintf("channel %s: transport failure: %v", err.Channel, err.Cause)
}

func (err TransportError) Unwrap() error {
	return err.Cause
}

type PowerFaultError struct {
	Reason       string
	Value, Limit float64
}

func (err PowerFaultError) Error() string {
	return fmt.Sprintf("power fault: %s (%g, limit %g)", err.Reason, err.Value, err.Limit)
}

// IsTimeout reports whether err is a bounded-wait expiry rather than an I/O failure.
func IsTimeout(err error) bool {
	var te TimeoutError
	return errors.As(err, &te)
}

func IsTransport(err error) bool {
	var te TransportError
	return errors.As(err, &te)
}

func IsPowerFault(err error) bool {
	var pe PowerFaultError
	return errors.As(err, &pe)
}
