package queue

import "errors"

var (
	// ErrNoJob signals an empty queue on claim.
	ErrNoJob = errors.New("queue: no claimable job")
	// ErrDuplicateJob signals that an uncompleted job of the same type
	// already exists for the content item.
	ErrDuplicateJob = errors.New("queue: duplicate job")
	// ErrNotFound signals an unknown job ID.
	ErrNotFound = errors.New("queue: job not found")
)
