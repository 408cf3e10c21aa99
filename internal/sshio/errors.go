package sshio

import (
	"errors"
	"fmt"
)

// ErrConfirmationRequired gates every destructive push; it must be rejected
// before any session is opened.
var ErrConfirmationRequired = errors.New("confirmation required")

// DeviceUnreachableError covers dial and transport failures. The underlying
// Go error type name is kept so job reports can show it.
type DeviceUnreachableError struct {
	Addr string
	Err  error
}

func (e *DeviceUnreachableError) Error() string {
	return fmt.Sprintf("device %s unreachable: %v (%T)", e.Addr, e.Err, e.Err)
}
func (e *DeviceUnreachableError) Unwrap() error { return e.Err }

type AuthFailureError struct {
	Addr string
	Err  error
}

func (e *AuthFailureError) Error() string {
	return fmt.Sprintf("authentication to %s failed: %v (%T)", e.Addr, e.Err, e.Err)
}
func (e *AuthFailureError) Unwrap() error { return e.Err }

// PushFailureError names the push step that broke.
type PushFailureError struct {
	Step string
	Err  error
}

func (e *PushFailureError) Error() string {
	return fmt.Sprintf("push failed at %s: %v (%T)", e.Step, e.Err, e.Err)
}
func (e *PushFailureError) Unwrap() error { return e.Err }
