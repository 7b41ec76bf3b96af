package couchkit

import "time"

// Default timeout values in seconds.
const (
	DefaultConnectionTimeout = 10
	DefaultKVTimeout         = 5
	DefaultQueryTimeout      = 30
)

// Timeout holds the timeout values, in seconds, for the different operation
// classes of a session. It is immutable after construction.
type Timeout struct {
	connection int
	kv         int
	query      int
}

// NewTimeout creates a Timeout from connection, key-value, and query timeout
// values given in seconds. Non-positive values fall back to the defaults.
func NewTimeout(connection, kv, query int) Timeout {
	if connection <= 0 {
		connection = DefaultConnectionTimeout
	}
	if kv <= 0 {
		kv = DefaultKVTimeout
	}
	if query <= 0 {
		query = DefaultQueryTimeout
	}
	return Timeout{connection: connection, kv: kv, query: query}
}

// DefaultTimeoutValues returns a Timeout with the default values.
func DefaultTimeoutValues() Timeout {
	return NewTimeout(DefaultConnectionTimeout, DefaultKVTimeout, DefaultQueryTimeout)
}

// Connection returns the connection timeout in seconds.
func (t Timeout) Connection() int {
	return t.connection
}

// KV returns the key-value operation timeout in seconds.
func (t Timeout) KV() int {
	return t.kv
}

// Query returns the query operation timeout in seconds.
func (t Timeout) Query() int {
	return t.query
}

// ConnectionDuration returns the connection timeout as a time.Duration.
func (t Timeout) ConnectionDuration() time.Duration {
	return time.Duration(t.connection) * time.Second
}

// KVDuration returns the key-value timeout as a time.Duration.
func (t Timeout) KVDuration() time.Duration {
	return time.Duration(t.kv) * time.Second
}

// QueryDuration returns the query timeout as a time.Duration.
func (t Timeout) QueryDuration() time.Duration {
	return time.Duration(t.query) * time.Second
}
