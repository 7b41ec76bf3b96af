package couchkit

import (
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
)

// The interfaces below cover exactly the driver surface this package
// consumes. The production implementations wrap gocb; the fake package
// provides in-memory implementations for tests.

// Cluster is the connection-level capability set.
type Cluster interface {
	Bucket(name string) Bucket
	Query(statement string, opts *gocb.QueryOptions) (QueryResult, error)
	WaitUntilReady(timeout time.Duration, opts *gocb.WaitUntilReadyOptions) error
	Close(opts *gocb.ClusterCloseOptions) error
}

// Bucket is the bucket-level capability set.
type Bucket interface {
	Name() string
	Scope(name string) Scope
	DefaultScope() Scope
	DefaultCollection() Collection
	WaitUntilReady(timeout time.Duration, opts *gocb.WaitUntilReadyOptions) error
	Ping(opts *gocb.PingOptions) (*gocb.PingResult, error)
	ViewQuery(designDoc, viewName string, opts *gocb.ViewOptions) ([]ViewRow, error)
}

// Scope is the scope-level capability set.
type Scope interface {
	Name() string
	Collection(name string) Collection
}

// Collection is the key-value capability set.
type Collection interface {
	Name() string
	Insert(id string, value interface{}, opts *gocb.InsertOptions) error
	Upsert(id string, value interface{}, opts *gocb.UpsertOptions) error
	Replace(id string, value interface{}, opts *gocb.ReplaceOptions) error
	Get(id string, opts *gocb.GetOptions) (GetResult, error)
	Remove(id string, opts *gocb.RemoveOptions) error
	Do(ops []*BulkOp, opts *gocb.BulkOpOptions) error
}

// GetResult exposes the content of a fetched document.
type GetResult interface {
	Content(valuePtr interface{}) error
}

// QueryResult iterates the rows of an executed query.
type QueryResult interface {
	Next() bool
	Row(valuePtr interface{}) error
	Err() error
	Close() error
}

// ViewRow is one row of a view query result.
type ViewRow struct {
	ID    string
	Key   interface{}
	Value interface{}
}

// BulkOp is one entry of a batch request. The whole batch is handed to the
// driver as a single logical request; per-key outcomes land in Err (and
// Content for gets) after Do returns.
type BulkOp struct {
	Kind    Kind
	ID      string
	Value   interface{}
	Expiry  time.Duration
	Err     error
	Content map[string]interface{}
}

// dialCluster establishes the real driver connection. It is a variable so
// tests can substitute a fake cluster.
var dialCluster = func(connStr string, opts gocb.ClusterOptions) (Cluster, error) {
	cluster, err := gocb.Connect(connStr, opts)
	if err != nil {
		return nil, err
	}
	return gocbCluster{cluster: cluster}, nil
}

type gocbCluster struct {
	cluster *gocb.Cluster
}

func (c gocbCluster) Bucket(name string) Bucket {
	return gocbBucket{bucket: c.cluster.Bucket(name)}
}

func (c gocbCluster) Query(statement string, opts *gocb.QueryOptions) (QueryResult, error) {
	return c.cluster.Query(statement, opts)
}

func (c gocbCluster) WaitUntilReady(timeout time.Duration, opts *gocb.WaitUntilReadyOptions) error {
	return c.cluster.WaitUntilReady(timeout, opts)
}

func (c gocbCluster) Close(opts *gocb.ClusterCloseOptions) error {
	return c.cluster.Close(opts)
}

type gocbBucket struct {
	bucket *gocb.Bucket
}

func (b gocbBucket) Name() string {
	return b.bucket.Name()
}

func (b gocbBucket) Scope(name string) Scope {
	return gocbScope{scope: b.bucket.Scope(name)}
}

func (b gocbBucket) DefaultScope() Scope {
	return gocbScope{scope: b.bucket.DefaultScope()}
}

func (b gocbBucket) DefaultCollection() Collection {
	return gocbCollection{collection: b.bucket.DefaultCollection()}
}

func (b gocbBucket) WaitUntilReady(timeout time.Duration, opts *gocb.WaitUntilReadyOptions) error {
	return b.bucket.WaitUntilReady(timeout, opts)
}

func (b gocbBucket) Ping(opts *gocb.PingOptions) (*gocb.PingResult, error) {
	return b.bucket.Ping(opts)
}

func (b gocbBucket) ViewQuery(designDoc, viewName string, opts *gocb.ViewOptions) ([]ViewRow, error) {
	result, err := b.bucket.ViewQuery(designDoc, viewName, opts)
	if err != nil {
		return nil, err
	}

	var rows []ViewRow
	for result.Next() {
		row := result.Row()
		viewRow := ViewRow{ID: row.ID}
		if err := row.Key(&viewRow.Key); err != nil {
			return nil, fmt.Errorf("decode view row key: %w", err)
		}
		if err := row.Value(&viewRow.Value); err != nil {
			return nil, fmt.Errorf("decode view row value: %w", err)
		}
		rows = append(rows, viewRow)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return rows, result.Close()
}

type gocbScope struct {
	scope *gocb.Scope
}

func (s gocbScope) Name() string {
	return s.scope.Name()
}

func (s gocbScope) Collection(name string) Collection {
	return gocbCollection{collection: s.scope.Collection(name)}
}

type gocbCollection struct {
	collection *gocb.Collection
}

func (c gocbCollection) Name() string {
	return c.collection.Name()
}

func (c gocbCollection) Insert(id string, value interface{}, opts *gocb.InsertOptions) error {
	_, err := c.collection.Insert(id, value, opts)
	return err
}

func (c gocbCollection) Upsert(id string, value interface{}, opts *gocb.UpsertOptions) error {
	_, err := c.collection.Upsert(id, value, opts)
	return err
}

func (c gocbCollection) Replace(id string, value interface{}, opts *gocb.ReplaceOptions) error {
	_, err := c.collection.Replace(id, value, opts)
	return err
}

func (c gocbCollection) Get(id string, opts *gocb.GetOptions) (GetResult, error) {
	result, err := c.collection.Get(id, opts)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c gocbCollection) Remove(id string, opts *gocb.RemoveOptions) error {
	_, err := c.collection.Remove(id, opts)
	return err
}

func (c gocbCollection) Do(ops []*BulkOp, opts *gocb.BulkOpOptions) error {
	bulkOps := make([]gocb.BulkOp, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case KindInsert:
			bulkOps[i] = &gocb.InsertOp{ID: op.ID, Value: op.Value, Expiry: op.Expiry}
		case KindUpsert:
			bulkOps[i] = &gocb.UpsertOp{ID: op.ID, Value: op.Value, Expiry: op.Expiry}
		case KindReplace:
			bulkOps[i] = &gocb.ReplaceOp{ID: op.ID, Value: op.Value, Expiry: op.Expiry}
		case KindGet:
			bulkOps[i] = &gocb.GetOp{ID: op.ID}
		case KindRemove:
			bulkOps[i] = &gocb.RemoveOp{ID: op.ID}
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedKind, op.Kind)
		}
	}

	if err := c.collection.Do(bulkOps, opts); err != nil {
		return err
	}

	for i, op := range ops {
		switch bulkOp := bulkOps[i].(type) {
		case *gocb.InsertOp:
			op.Err = bulkOp.Err
		case *gocb.UpsertOp:
			op.Err = bulkOp.Err
		case *gocb.ReplaceOp:
			op.Err = bulkOp.Err
		case *gocb.GetOp:
			op.Err = bulkOp.Err
			if bulkOp.Err == nil && bulkOp.Result != nil {
				op.Err = bulkOp.Result.Content(&op.Content)
			}
		case *gocb.RemoveOp:
			op.Err = bulkOp.Err
		}
	}
	return nil
}
