package couchkit

import (
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
)

// Kind identifies the operation class an Options record is built for.
type Kind int

const (
	KindInsert Kind = iota
	KindInsertMulti
	KindUpsert
	KindUpsertMulti
	KindReplace
	KindReplaceMulti
	KindGet
	KindGetMulti
	KindRemove
	KindRemoveMulti
	KindQuery
	KindView
)

var kindNames = map[Kind]string{
	KindInsert:       "insert",
	KindInsertMulti:  "insert_multi",
	KindUpsert:       "upsert",
	KindUpsertMulti:  "upsert_multi",
	KindReplace:      "replace",
	KindReplaceMulti: "replace_multi",
	KindGet:          "get",
	KindGetMulti:     "get_multi",
	KindRemove:       "remove",
	KindRemoveMulti:  "remove_multi",
	KindQuery:        "query",
	KindView:         "view",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Options carries the per-operation settings this package forwards to the
// driver. A fresh record is built for every call and never shared.
type Options struct {
	// Timeout bounds the operation. When zero, BuildOptions injects the
	// session default for the operation kind.
	Timeout time.Duration

	// Expiry sets the document time-to-live on mutation operations.
	Expiry time.Duration

	// PositionalParameters are bound to $1..$n placeholders on query
	// operations.
	PositionalParameters []interface{}

	// PerKeyOptions override the batch-level options for individual keys
	// of a multi operation.
	PerKeyOptions map[string]Options

	// Adhoc disables prepared statement optimization on query operations.
	Adhoc bool
}

// ExpirySeconds converts a whole number of seconds into the duration form
// Options expects.
func ExpirySeconds(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// BuildOptions normalizes an Options record for the given operation kind.
// Value semantics guarantee the caller's record is never mutated. A zero
// Timeout is replaced by the query timeout for query and view kinds and the
// key-value timeout for everything else. A positive expiry overrides the
// record's Expiry. Unknown kinds fail with ErrUnsupportedKind.
func BuildOptions(kind Kind, opts Options, expiry time.Duration, timeout Timeout) (Options, error) {
	if _, ok := kindNames[kind]; !ok {
		return Options{}, fmt.Errorf("%w: %d", ErrUnsupportedKind, int(kind))
	}

	if opts.Timeout == 0 {
		switch kind {
		case KindQuery, KindView:
			opts.Timeout = timeout.QueryDuration()
		default:
			opts.Timeout = timeout.KVDuration()
		}
	}

	if expiry > 0 {
		opts.Expiry = expiry
	}

	return opts, nil
}

func (o Options) insertOptions() *gocb.InsertOptions {
	return &gocb.InsertOptions{Timeout: o.Timeout, Expiry: o.Expiry}
}

func (o Options) upsertOptions() *gocb.UpsertOptions {
	return &gocb.UpsertOptions{Timeout: o.Timeout, Expiry: o.Expiry}
}

func (o Options) replaceOptions() *gocb.ReplaceOptions {
	return &gocb.ReplaceOptions{Timeout: o.Timeout, Expiry: o.Expiry}
}

func (o Options) getOptions() *gocb.GetOptions {
	return &gocb.GetOptions{Timeout: o.Timeout}
}

func (o Options) removeOptions() *gocb.RemoveOptions {
	return &gocb.RemoveOptions{Timeout: o.Timeout}
}

func (o Options) bulkOptions() *gocb.BulkOpOptions {
	return &gocb.BulkOpOptions{Timeout: o.Timeout}
}

func (o Options) queryOptions() *gocb.QueryOptions {
	return &gocb.QueryOptions{
		Timeout:              o.Timeout,
		PositionalParameters: o.PositionalParameters,
		Adhoc:                o.Adhoc,
	}
}

func (o Options) viewOptions() *gocb.ViewOptions {
	return &gocb.ViewOptions{Timeout: o.Timeout}
}
