package couchkit

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stealthcompany.com/couchkit/internal/metrics"
)

var (
	operatorPattern = regexp.MustCompile(`(?i)(\s|<|>|!|=|is null|is not null)`)
	nonWordPattern  = regexp.MustCompile(`\W`)
)

// condition is one WHERE clause entry: its join keyword, the rendered
// column expression (column plus operator), and the value bound as a
// positional parameter.
type condition struct {
	join  string
	expr  string
	value interface{}
}

// N1ql builds and executes SQL++ (N1QL) select statements through chained
// calls. A builder is bound to one session and reset after every execution,
// so it can be reused for subsequent chains but not shared across
// goroutines.
//
// Usage:
//
//	session := couchkit.NewSession("localhost", "user", "password",
//		&couchkit.SessionOptions{Bucket: "businesses"})
//	n1ql, err := couchkit.NewN1ql(session)
//	if err != nil {
//		return err
//	}
//	restaurants := n1ql.Select("name").Where("type=", "restaurant").Rows(nil)
type N1ql struct {
	session SessionLike
	logger  zerolog.Logger

	columns      []string
	conditions   []condition
	distinct     bool
	limit        *int
	offset       *int
	sessionReset map[string]string
	err          error
}

// NewN1ql creates a query builder bound to the given session, connecting it
// when necessary.
func NewN1ql(session SessionLike) (*N1ql, error) {
	if !session.Connected() {
		if err := session.Connect(); err != nil {
			return nil, err
		}
	}

	return &N1ql{
		session:      session,
		logger:       log.Logger,
		columns:      []string{"*"},
		sessionReset: map[string]string{},
	}, nil
}

// Select sets the columns to select. Each argument may itself be a
// comma-separated list; entries are trimmed. Calling Select with no
// arguments selects everything.
func (q *N1ql) Select(columns ...string) *N1ql {
	if len(columns) == 0 {
		q.columns = []string{"*"}
		return q
	}

	var cols []string
	for _, column := range columns {
		for _, col := range strings.Split(column, ",") {
			cols = append(cols, strings.TrimSpace(col))
		}
	}
	q.columns = cols

	return q
}

// Distinct sets whether the query selects distinct values. The flag is
// cleared again when the chain executes.
func (q *N1ql) Distinct(enable bool) *N1ql {
	q.distinct = enable
	return q
}

// From overrides the session's bucket, scope, or collection for this chain.
// Empty arguments keep the current selection. Overridden names are restored
// on the session when the chain executes.
func (q *N1ql) From(bucket, scope, collection string) *N1ql {
	if bucket != "" {
		current, err := q.session.BucketName()
		if err != nil {
			q.fail(err)
		} else if bucket != current {
			q.saveOverride("bucket", current)
			if err := q.session.SetBucket(bucket); err != nil {
				q.fail(err)
			}
		}
	}

	if scope != "" && scope != q.session.ScopeName() {
		q.saveOverride("scope", q.session.ScopeName())
		if err := q.session.SetScope(scope); err != nil {
			q.fail(err)
		}
	}

	if collection != "" && collection != q.session.CollectionName() {
		q.saveOverride("collection", q.session.CollectionName())
		if err := q.session.SetCollection(collection); err != nil {
			q.fail(err)
		}
	}

	return q
}

// saveOverride records the original name for restoration after execution.
// Repeated overrides within one chain keep the first recorded original.
func (q *N1ql) saveOverride(prop, original string) {
	if _, ok := q.sessionReset[prop]; !ok {
		q.sessionReset[prop] = original
	}
}

func (q *N1ql) fail(err error) {
	if q.err == nil {
		q.err = err
	}
}

// Where adds an inclusive (AND) condition. The key may carry an operator,
// e.g. "age >"; without one the condition compares with "=" or, for nil
// values, "IS NULL".
func (q *N1ql) Where(key string, value interface{}) *N1ql {
	q.addCondition("AND", key, value)
	return q
}

// OrWhere adds an exclusive (OR) condition.
func (q *N1ql) OrWhere(key string, value interface{}) *N1ql {
	q.addCondition("OR", key, value)
	return q
}

func (q *N1ql) addCondition(join, key string, value interface{}) {
	var column, operator string
	if loc := operatorPattern.FindStringIndex(key); loc != nil {
		column = nonWordPattern.ReplaceAllString(key[:loc[0]], "")
		operator = strings.TrimSpace(key[loc[0]:])
	} else {
		column = nonWordPattern.ReplaceAllString(key, "")
	}

	if operator == "" {
		if value == nil {
			operator = "IS NULL"
		} else {
			operator = "="
		}
	}

	expr := encloseReservedWord(column) + " " + operator
	q.conditions = append(q.conditions, condition{join: join, expr: expr, value: value})
}

// Limit sets the maximum number of rows the query returns. The value is
// coerced to an integer; values that cannot be coerced leave the previous
// limit in place.
func (q *N1ql) Limit(limit interface{}) *N1ql {
	if n, ok := toInt(limit); ok {
		q.limit = &n
	}
	return q
}

// Offset sets the number of rows the query skips. The value is coerced to
// an integer; values that cannot be coerced leave the previous offset in
// place.
func (q *N1ql) Offset(offset interface{}) *N1ql {
	if n, ok := toInt(offset); ok {
		q.offset = &n
	}
	return q
}

// Skip is an alias for Offset.
func (q *N1ql) Skip(skip interface{}) *N1ql {
	return q.Offset(skip)
}

func toInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case float32:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Rows compiles the accumulated chain into a single parameterized statement,
// executes it with request-plus consistency, and returns the fetched rows.
// Failures are logged and yield nil. The builder and any session overrides
// are always reset afterwards, on every exit path.
func (q *N1ql) Rows(opts *Options) []map[string]interface{} {
	defer q.reset()

	if q.err != nil {
		q.logger.Error().Err(q.err).Msg("SQL++ chain in failed state, skipping execution")
		return nil
	}

	bucketName, err := q.session.BucketName()
	if err != nil {
		q.logger.Error().Err(err).Msg("SQL++ query requires a bucket")
		return nil
	}

	statement, positional := q.compile(bucketName)

	var options Options
	if opts != nil {
		options = *opts
	}
	if len(positional) > 0 {
		options.PositionalParameters = positional
	}

	built, err := BuildOptions(KindQuery, options, 0, q.session.Timeout())
	if err != nil {
		q.logger.Error().Err(err).Msg("Failed to build query options")
		return nil
	}

	queryOpts := built.queryOptions()
	queryOpts.ScanConsistency = gocb.QueryScanConsistencyRequestPlus
	queryOpts.Timeout = q.session.Timeout().QueryDuration()

	start := time.Now()
	result, err := q.session.Cluster().Query(statement, queryOpts)
	if err != nil {
		metrics.RecordQuery(false, time.Since(start))
		q.logger.Error().Err(err).
			Str("statement", statement).
			Msg("SQL++ query failed")
		return nil
	}
	defer result.Close()

	var rows []map[string]interface{}
	for result.Next() {
		var row map[string]interface{}
		if err := result.Row(&row); err != nil {
			metrics.RecordQuery(false, time.Since(start))
			q.logger.Error().Err(err).Msg("Failed to read SQL++ row")
			return nil
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		metrics.RecordQuery(false, time.Since(start))
		q.logger.Error().Err(err).
			Str("statement", statement).
			Msg("SQL++ row iteration failed")
		return nil
	}

	metrics.RecordQuery(true, time.Since(start))
	return rows
}

// compile assembles the statement text and the positional parameter list.
func (q *N1ql) compile(bucketName string) (string, []interface{}) {
	from := encloseReservedWord(bucketName)
	if q.session.ScopeName() != defaultName || q.session.CollectionName() != defaultName {
		from += "." + encloseReservedWord(q.session.ScopeName()) +
			"." + encloseReservedWord(q.session.CollectionName())
	}

	ident := bucketName[:1]
	prefix := ident + "."

	columns := make([]string, len(q.columns))
	for i, col := range q.columns {
		if col == "*" {
			columns[i] = col
		} else {
			columns[i] = prefix + encloseReservedWord(col)
		}
	}

	var statement strings.Builder
	statement.WriteString("SELECT ")
	if q.distinct {
		statement.WriteString("DISTINCT ")
	}
	statement.WriteString(strings.Join(columns, ", "))
	statement.WriteString(" FROM " + from + " " + ident)

	var positional []interface{}
	if len(q.conditions) > 0 {
		statement.WriteString(" WHERE")
		for i, cond := range q.conditions {
			positional = append(positional, cond.value)
			if i > 0 {
				statement.WriteString(" " + cond.join)
			}
			fmt.Fprintf(&statement, " %s%s $%d", prefix, cond.expr, i+1)
		}
	}

	if q.limit != nil {
		fmt.Fprintf(&statement, " LIMIT %d", *q.limit)
	}
	if q.offset != nil {
		fmt.Fprintf(&statement, " OFFSET %d", *q.offset)
	}

	return statement.String(), positional
}

// reset restores the builder defaults and reapplies any session names this
// chain overrode, so a chain never leaks its overrides into later use of
// the session. Bucket is restored first: scope and collection selection
// depend on it.
func (q *N1ql) reset() {
	q.columns = []string{"*"}
	q.conditions = nil
	q.distinct = false
	q.limit = nil
	q.offset = nil
	q.err = nil

	if original, ok := q.sessionReset["bucket"]; ok {
		if err := q.session.SetBucket(original); err != nil {
			q.logger.Error().Err(err).Str("bucket", original).Msg("Failed to restore session bucket")
		}
	}
	if original, ok := q.sessionReset["scope"]; ok {
		if err := q.session.SetScope(original); err != nil {
			q.logger.Error().Err(err).Str("scope", original).Msg("Failed to restore session scope")
		}
	}
	if original, ok := q.sessionReset["collection"]; ok {
		if err := q.session.SetCollection(original); err != nil {
			q.logger.Error().Err(err).Str("collection", original).Msg("Failed to restore session collection")
		}
	}
	q.sessionReset = map[string]string{}
}
