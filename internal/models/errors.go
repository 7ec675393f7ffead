package models

import (
	"errors"
	"fmt"
)

// ErrTableMissing marks a static table that is absent from the archive.
var ErrTableMissing = errors.New("static table missing")

// FeedFormatError reports a malformed or incomplete static feed. The load is
// aborted and the previous snapshot stays in place.
type FeedFormatError struct {
	Table  string
	Reason string
	Err    error
}

func (e *FeedFormatError) Error() string {
	msg := "feed format error"
	if e.Table != "" {
		msg += " in " + e.Table
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FeedFormatError) Unwrap() error { return e.Err }

// StoreError reports a failed store operation. Transactions are rolled back in
// full before it is returned.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NetworkError reports a fetch that failed, including when the connectivity
// probe also failed (Offline).
type NetworkError struct {
	URL     string
	Offline bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Offline {
		return fmt.Sprintf("network unavailable fetching %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DecodeError reports a realtime payload whose top-level envelope could not be
// decoded.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode error: %s: %v", e.Reason, e.Err)
	}
	return "decode error: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }
