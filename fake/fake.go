// Package fake provides an in-memory implementation of the driver
// capability interfaces consumed by couchkit, for testing session, helper,
// and query-builder behavior without a Couchbase server.
package fake

import (
	"encoding/json"
	"time"

	"github.com/couchbase/gocb/v2"

	"stealthcompany.com/couchkit"
)

// Cluster is an in-memory couchkit.Cluster. Buckets are created on first
// access. Query executions are recorded so tests can assert on the compiled
// statement and options.
type Cluster struct {
	// ReadyErr is returned from WaitUntilReady, simulating a cluster that
	// never reports ready.
	ReadyErr error

	// QueryErr is returned from Query, simulating a failing query service.
	QueryErr error

	// QueryRows are served to every query execution.
	QueryRows []map[string]interface{}

	// LastStatement and LastQueryOptions capture the most recent query.
	LastStatement    string
	LastQueryOptions *gocb.QueryOptions

	// Closed reports whether Close was called.
	Closed bool

	buckets map[string]*Bucket
}

// NewCluster creates an empty in-memory cluster.
func NewCluster() *Cluster {
	return &Cluster{buckets: map[string]*Bucket{}}
}

func (c *Cluster) Bucket(name string) couchkit.Bucket {
	return c.bucket(name)
}

func (c *Cluster) bucket(name string) *Bucket {
	if bucket, ok := c.buckets[name]; ok {
		return bucket
	}
	bucket := &Bucket{cluster: c, name: name, scopes: map[string]*Scope{}}
	c.buckets[name] = bucket
	return bucket
}

func (c *Cluster) Query(statement string, opts *gocb.QueryOptions) (couchkit.QueryResult, error) {
	c.LastStatement = statement
	c.LastQueryOptions = opts

	if c.QueryErr != nil {
		return nil, c.QueryErr
	}
	return &QueryResult{rows: c.QueryRows}, nil
}

func (c *Cluster) WaitUntilReady(timeout time.Duration, opts *gocb.WaitUntilReadyOptions) error {
	return c.ReadyErr
}

func (c *Cluster) Close(opts *gocb.ClusterCloseOptions) error {
	c.Closed = true
	return nil
}

// Bucket is an in-memory couchkit.Bucket.
type Bucket struct {
	// PingReports are returned from Ping under the key-value service.
	PingReports []gocb.EndpointPingReport

	// ViewRows and ViewErr configure ViewQuery results.
	ViewRows []couchkit.ViewRow
	ViewErr  error

	cluster *Cluster
	name    string
	scopes  map[string]*Scope
}

func (b *Bucket) Name() string {
	return b.name
}

func (b *Bucket) Scope(name string) couchkit.Scope {
	return b.scope(name)
}

func (b *Bucket) scope(name string) *Scope {
	if scope, ok := b.scopes[name]; ok {
		return scope
	}
	scope := &Scope{bucket: b, name: name, collections: map[string]*Collection{}}
	b.scopes[name] = scope
	return scope
}

func (b *Bucket) DefaultScope() couchkit.Scope {
	return b.Scope("_default")
}

func (b *Bucket) DefaultCollection() couchkit.Collection {
	return b.scope("_default").Collection("_default")
}

func (b *Bucket) WaitUntilReady(timeout time.Duration, opts *gocb.WaitUntilReadyOptions) error {
	return b.cluster.ReadyErr
}

func (b *Bucket) Ping(opts *gocb.PingOptions) (*gocb.PingResult, error) {
	return &gocb.PingResult{
		Services: map[gocb.ServiceType][]gocb.EndpointPingReport{
			gocb.ServiceTypeKeyValue: b.PingReports,
		},
	}, nil
}

func (b *Bucket) ViewQuery(designDoc, viewName string, opts *gocb.ViewOptions) ([]couchkit.ViewRow, error) {
	if b.ViewErr != nil {
		return nil, b.ViewErr
	}
	return b.ViewRows, nil
}

// Scope is an in-memory couchkit.Scope.
type Scope struct {
	bucket      *Bucket
	name        string
	collections map[string]*Collection
}

func (s *Scope) Name() string {
	return s.name
}

func (s *Scope) Collection(name string) couchkit.Collection {
	if collection, ok := s.collections[name]; ok {
		return collection
	}
	collection := &Collection{scope: s, name: name, docs: map[string]interface{}{}}
	s.collections[name] = collection
	return collection
}

// Collection is an in-memory couchkit.Collection backed by a map.
type Collection struct {
	scope *Scope
	name  string
	docs  map[string]interface{}
}

func (c *Collection) Name() string {
	return c.name
}

// Docs exposes the stored documents for test assertions.
func (c *Collection) Docs() map[string]interface{} {
	return c.docs
}

func (c *Collection) Insert(id string, value interface{}, opts *gocb.InsertOptions) error {
	if _, exists := c.docs[id]; exists {
		return gocb.ErrDocumentExists
	}
	c.docs[id] = value
	return nil
}

func (c *Collection) Upsert(id string, value interface{}, opts *gocb.UpsertOptions) error {
	c.docs[id] = value
	return nil
}

func (c *Collection) Replace(id string, value interface{}, opts *gocb.ReplaceOptions) error {
	if _, exists := c.docs[id]; !exists {
		return gocb.ErrDocumentNotFound
	}
	c.docs[id] = value
	return nil
}

func (c *Collection) Get(id string, opts *gocb.GetOptions) (couchkit.GetResult, error) {
	value, exists := c.docs[id]
	if !exists {
		return nil, gocb.ErrDocumentNotFound
	}
	return GetResult{value: value}, nil
}

func (c *Collection) Remove(id string, opts *gocb.RemoveOptions) error {
	if _, exists := c.docs[id]; !exists {
		return gocb.ErrDocumentNotFound
	}
	delete(c.docs, id)
	return nil
}

func (c *Collection) Do(ops []*couchkit.BulkOp, opts *gocb.BulkOpOptions) error {
	for _, op := range ops {
		switch op.Kind {
		case couchkit.KindInsert:
			op.Err = c.Insert(op.ID, op.Value, nil)
		case couchkit.KindUpsert:
			op.Err = c.Upsert(op.ID, op.Value, nil)
		case couchkit.KindReplace:
			op.Err = c.Replace(op.ID, op.Value, nil)
		case couchkit.KindGet:
			result, err := c.Get(op.ID, nil)
			op.Err = err
			if err == nil {
				op.Err = result.Content(&op.Content)
			}
		case couchkit.KindRemove:
			op.Err = c.Remove(op.ID, nil)
		default:
			op.Err = couchkit.ErrUnsupportedKind
		}
	}
	return nil
}

// GetResult decodes the stored value through a JSON round trip, matching
// the driver's transcoding semantics.
type GetResult struct {
	value interface{}
}

func (r GetResult) Content(valuePtr interface{}) error {
	data, err := json.Marshal(r.value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, valuePtr)
}

// QueryResult serves a fixed set of rows.
type QueryResult struct {
	rows []map[string]interface{}
	next int
	err  error
}

// NewQueryResult creates a result serving the given rows.
func NewQueryResult(rows []map[string]interface{}) *QueryResult {
	return &QueryResult{rows: rows}
}

func (r *QueryResult) Next() bool {
	return r.next < len(r.rows)
}

func (r *QueryResult) Row(valuePtr interface{}) error {
	if r.next >= len(r.rows) {
		return gocb.ErrNoResult
	}
	row := r.rows[r.next]
	r.next++

	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, valuePtr)
}

func (r *QueryResult) Err() error {
	return r.err
}

func (r *QueryResult) Close() error {
	return nil
}

// OkPingReports builds n endpoint reports in the OK state.
func OkPingReports(n int) []gocb.EndpointPingReport {
	reports := make([]gocb.EndpointPingReport, n)
	for i := range reports {
		reports[i] = gocb.EndpointPingReport{State: gocb.PingStateOk}
	}
	return reports
}
