package ota

import "errors"

var (
	// ErrAlreadyInProgress is returned by Start while another session is
	// active. Sessions never queue.
	ErrAlreadyInProgress = errors.New("ota: update already in progress")

	// ErrEmptyImage is returned by Start for a descriptor with zero
	// expected size.
	ErrEmptyImage = errors.New("ota: expected image size is zero")

	// ErrImageTooLarge is returned by Start when the image cannot fit the
	// target slot.
	ErrImageTooLarge = errors.New("ota: image exceeds slot capacity")

	// ErrOversizedImage is returned by Feed when cumulative bytes exceed
	// the declared size. Integrity failure, never retried.
	ErrOversizedImage = errors.New("ota: received more bytes than declared size")

	// ErrNotDownloading is returned by Feed outside the Downloading state.
	ErrNotDownloading = errors.New("ota: session is not accepting data")

	// ErrSessionConcluded is returned for operations on a session that
	// already reached Complete or Failed.
	ErrSessionConcluded = errors.New("ota: session already concluded")
)
