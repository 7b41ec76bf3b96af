package couchkit

import "errors"

var (
	// ErrClusterNotSet is returned when an operation requires a cluster
	// handle but none has been established.
	ErrClusterNotSet = errors.New("no cluster set")

	// ErrBucketNotSet is returned when an operation requires a bucket to
	// be selected first.
	ErrBucketNotSet = errors.New("no bucket set")

	// ErrScopeNotSet is returned when an operation requires a scope to be
	// selected first.
	ErrScopeNotSet = errors.New("no scope set")

	// ErrConnectionTimeout is returned when the cluster did not report
	// ready within the configured connection timeout.
	ErrConnectionTimeout = errors.New("connection timeout")

	// ErrUnsupportedKind is returned when options are requested for an
	// operation kind this package does not know about.
	ErrUnsupportedKind = errors.New("unsupported operation kind")
)
