// Package chain talks to a Substrate node: block heads and privileged
// extrinsic submission.
package chain

import (
	"context"
	"errors"
	"sync"

	"nlo/internal/opserr"
)

var ErrSubscriptionClosed = errors.New("subscription closed")

type Header struct {
	Number     uint64
	ParentHash string
}

type StatusState string

const (
	StatusFuture          StatusState = "future"
	StatusReady           StatusState = "ready"
	StatusBroadcast       StatusState = "broadcast"
	StatusInBlock         StatusState = "inBlock"
	StatusRetracted       StatusState = "retracted"
	StatusFinalityTimeout StatusState = "finalityTimeout"
	StatusFinalized       StatusState = "finalized"
	StatusUsurped         StatusState = "usurped"
	StatusDropped         StatusState = "dropped"
	StatusInvalid         StatusState = "invalid"
)

// Terminal reports whether no further status follows this one.
func (s StatusState) Terminal() bool {
	switch s {
	case StatusFinalized, StatusUsurped, StatusDropped, StatusInvalid, StatusFinalityTimeout:
		return true
	}
	return false
}

// Status is one transition of a submitted extrinsic.
type Status struct {
	State     StatusState
	BlockHash string
}

// Event is a runtime event emitted while applying one extrinsic.
type Event struct {
	Pallet string
	Name   string
	// Err is set when the event reports a failed dispatch.
	Err *opserr.DispatchError
}

func (e Event) Is(pallet, name string) bool {
	return e.Pallet == pallet && e.Name == name
}

// Subscription delivers a stream of values until it is unsubscribed or the
// producer fails.
type Subscription[T any] struct {
	values <-chan T
	errs   <-chan error

	once        sync.Once
	unsubscribe func()
}

func NewSubscription[T any](values <-chan T, errs <-chan error, unsubscribe func()) *Subscription[T] {
	return &Subscription[T]{values: values, errs: errs, unsubscribe: unsubscribe}
}

func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}

// Await consumes values until done reports true or an error, then
// unsubscribes. Cancel ctx to bound the wait.
func (s *Subscription[T]) Await(ctx context.Context, done func(T) (bool, error)) (T, error) {
	defer s.Unsubscribe()

	var zero T
	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case err, ok := <-s.errs:
			if !ok {
				s.errs = nil
				continue
			}
			if err != nil {
				return zero, err
			}
		case v, ok := <-s.values:
			if !ok {
				select {
				case err := <-s.errs:
					if err != nil {
						return zero, err
					}
				default:
				}
				return zero, ErrSubscriptionClosed
			}
			finished, err := done(v)
			if err != nil {
				return v, err
			}
			if finished {
				return v, nil
			}
		}
	}
}
