package couchkit_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/couchbase/gocb/v2"

	"stealthcompany.com/couchkit"
	"stealthcompany.com/couchkit/fake"
)

func newN1ql(t *testing.T, bucket string) (*couchkit.N1ql, *fake.Cluster) {
	t.Helper()

	session, cluster := connectedSession(t, bucket)
	n1ql, err := couchkit.NewN1ql(session)
	if err != nil {
		t.Fatalf("NewN1ql failed: %v", err)
	}
	return n1ql, cluster
}

func TestN1qlWhereCompilesPositionalParameter(t *testing.T) {
	n1ql, cluster := newN1ql(t, "businesses")

	n1ql.Select("name").Where("type=", "restaurant").Rows(nil)

	expected := "SELECT b.name FROM businesses b WHERE b.type = $1"
	if cluster.LastStatement != expected {
		t.Errorf("Expected %q, got %q", expected, cluster.LastStatement)
	}

	params := cluster.LastQueryOptions.PositionalParameters
	if !reflect.DeepEqual(params, []interface{}{"restaurant"}) {
		t.Errorf("Expected positional parameters [restaurant], got %v", params)
	}
}

func TestN1qlExecutionOptions(t *testing.T) {
	n1ql, cluster := newN1ql(t, "businesses")

	n1ql.Where("type=", "restaurant").Rows(nil)

	opts := cluster.LastQueryOptions
	if opts.ScanConsistency != gocb.QueryScanConsistencyRequestPlus {
		t.Errorf("Expected request-plus consistency, got %v", opts.ScanConsistency)
	}
	if opts.Timeout != 30*time.Second {
		t.Errorf("Expected query timeout 30s, got %v", opts.Timeout)
	}
}

func TestN1qlOrWhereJoins(t *testing.T) {
	n1ql, cluster := newN1ql(t, "businesses")

	n1ql.Select("name").
		Where("type=", "butcher").
		OrWhere("type=", "bakery").
		Rows(nil)

	expected := "SELECT b.name FROM businesses b WHERE b.type = $1 OR b.type = $2"
	if cluster.LastStatement != expected {
		t.Errorf("Expected %q, got %q", expected, cluster.LastStatement)
	}

	params := cluster.LastQueryOptions.PositionalParameters
	if !reflect.DeepEqual(params, []interface{}{"butcher", "bakery"}) {
		t.Errorf("Unexpected positional parameters: %v", params)
	}
}

func TestN1qlSelectVariants(t *testing.T) {
	n1ql, cluster := newN1ql(t, "businesses")

	n1ql.Select("a,b").Rows(nil)
	fromString := cluster.LastStatement

	n1ql.Select("a", "b").Rows(nil)
	fromList := cluster.LastStatement

	if fromString != fromList {
		t.Errorf("Comma string and list selects differ: %q vs %q", fromString, fromList)
	}
	expected := "SELECT b.a, b.b FROM businesses b"
	if fromString != expected {
		t.Errorf("Expected %q, got %q", expected, fromString)
	}
}

func TestN1qlDistinct(t *testing.T) {
	n1ql, cluster := newN1ql(t, "businesses")

	n1ql.Select("type").Distinct(true).Rows(nil)

	expected := "SELECT DISTINCT b.type FROM businesses b"
	if cluster.LastStatement != expected {
		t.Errorf("Expected %q, got %q", expected, cluster.LastStatement)
	}

	// The distinct flag must not survive the reset.
	n1ql.Select("type").Rows(nil)
	expected = "SELECT b.type FROM businesses b"
	if cluster.LastStatement != expected {
		t.Errorf("Expected %q after reset, got %q", expected, cluster.LastStatement)
	}
}

func TestN1qlLimitAndOffset(t *testing.T) {
	n1ql, cluster := newN1ql(t, "businesses")

	n1ql.Limit(10).Offset(5).Rows(nil)

	expected := "SELECT * FROM businesses b LIMIT 10 OFFSET 5"
	if cluster.LastStatement != expected {
		t.Errorf("Expected %q, got %q", expected, cluster.LastStatement)
	}
}

func TestN1qlInvalidLimitRetainsPrevious(t *testing.T) {
	n1ql, cluster := newN1ql(t, "businesses")

	n1ql.Limit(10).Limit("invalid").Rows(nil)

	expected := "SELECT * FROM businesses b LIMIT 10"
	if cluster.LastStatement != expected {
		t.Errorf("Expected %q, got %q", expected, cluster.LastStatement)
	}
}

func TestN1qlReservedWordsQuoted(t *testing.T) {
	n1ql, cluster := newN1ql(t, "select")

	n1ql.Select("order", "name").Rows(nil)

	expected := "SELECT s.`order`, s.name FROM `select` s"
	if cluster.LastStatement != expected {
		t.Errorf("Expected %q, got %q", expected, cluster.LastStatement)
	}
}

func TestN1qlNonDefaultScopeInFromClause(t *testing.T) {
	n1ql, cluster := newN1ql(t, "travel")

	n1ql.From("", "inventory", "airport").Rows(nil)

	expected := "SELECT * FROM travel.inventory.airport t"
	if cluster.LastStatement != expected {
		t.Errorf("Expected %q, got %q", expected, cluster.LastStatement)
	}
}

func TestN1qlFromRestoresSessionOverrides(t *testing.T) {
	session, cluster := connectedSession(t, "businesses")
	n1ql, err := couchkit.NewN1ql(session)
	if err != nil {
		t.Fatalf("NewN1ql failed: %v", err)
	}

	n1ql.From("other", "inventory", "airport").Rows(nil)

	expected := "SELECT * FROM other.inventory.airport o"
	if cluster.LastStatement != expected {
		t.Errorf("Expected %q, got %q", expected, cluster.LastStatement)
	}

	name, err := session.BucketName()
	if err != nil {
		t.Fatalf("BucketName failed: %v", err)
	}
	if name != "businesses" {
		t.Errorf("Expected bucket restored to 'businesses', got %q", name)
	}
	if session.ScopeName() != "_default" {
		t.Errorf("Expected scope restored to '_default', got %q", session.ScopeName())
	}
	if session.CollectionName() != "_default" {
		t.Errorf("Expected collection restored to '_default', got %q", session.CollectionName())
	}
}

func TestN1qlRowsDecoded(t *testing.T) {
	n1ql, cluster := newN1ql(t, "businesses")

	cluster.QueryRows = []map[string]interface{}{
		{"name": "Butcher's Block"},
		{"name": "Daily Bread"},
	}

	rows := n1ql.Where("type=", "shop").Rows(nil)
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0]["name"] != "Butcher's Block" {
		t.Errorf("Unexpected first row: %v", rows[0])
	}
}

func TestN1qlQueryFailureReturnsNilAndResets(t *testing.T) {
	n1ql, cluster := newN1ql(t, "businesses")

	cluster.QueryErr = gocb.ErrParsingFailure
	if rows := n1ql.Select("name").Where("type=", "x").Limit(5).Rows(nil); rows != nil {
		t.Errorf("Expected nil rows on failure, got %v", rows)
	}

	// The builder must be back at its defaults despite the failure.
	cluster.QueryErr = nil
	n1ql.Rows(nil)
	expected := "SELECT * FROM businesses b"
	if cluster.LastStatement != expected {
		t.Errorf("Expected %q after reset, got %q", expected, cluster.LastStatement)
	}
}

func TestN1qlExtraOptionsMerged(t *testing.T) {
	n1ql, cluster := newN1ql(t, "businesses")

	n1ql.Where("type=", "x").Rows(&couchkit.Options{Adhoc: true})

	if !cluster.LastQueryOptions.Adhoc {
		t.Error("Expected adhoc option to be forwarded")
	}
}
