package redis

import (
	"errors"
	"fmt"

	"github.com/dbplane/go-dbplane-common/breaker"
)

var (
	ErrPoolExhausted = errors.New("redis: no connection available within the acquisition timeout")
	ErrPoolClosed    = errors.New("redis: connection pool is closed")
	ErrConnect       = errors.New("redis: connect error")
	ErrOperation     = errors.New("redis: backend operation error")

	// ErrCircuitOpen is returned when the breaker is open or a half-open
	// probe is already in flight. Re-exported so callers need only this
	// package for the full error taxonomy.
	ErrCircuitOpen = breaker.ErrCircuitOpen
)

func ExhaustedError(name string) error {
	return fmt.Errorf("%w: %s", ErrPoolExhausted, name)
}

func ConnectError(err error, name string) error {
	return fmt.Errorf("%w %s: %v", ErrConnect, name, err)
}

func OperationError(err error, name string) error {
	return fmt.Errorf("%w %s: %v", ErrOperation, name, err)
}
