package couchkit_test

import (
	"reflect"
	"testing"

	"stealthcompany.com/couchkit"
	"stealthcompany.com/couchkit/fake"
)

func newHelper(t *testing.T) (*couchkit.Helper, *fake.Cluster) {
	t.Helper()

	session, cluster := connectedSession(t, "test")
	helper, err := couchkit.NewHelper(session)
	if err != nil {
		t.Fatalf("NewHelper failed: %v", err)
	}
	return helper, cluster
}

func TestHelperInsertGetRoundTrip(t *testing.T) {
	helper, _ := newHelper(t)

	doc := map[string]interface{}{
		"name":   "Butcher's Block",
		"type":   "butcher",
		"rating": 4.5,
	}

	if !helper.Insert("shop::1", doc, 0, nil) {
		t.Fatal("Expected insert to succeed")
	}

	got := helper.Get("shop::1", nil)
	if !reflect.DeepEqual(got, doc) {
		t.Errorf("Expected %v, got %v", doc, got)
	}
}

func TestHelperInsertExistingKey(t *testing.T) {
	helper, _ := newHelper(t)

	original := map[string]interface{}{"name": "original"}
	if !helper.Insert("doc::1", original, 0, nil) {
		t.Fatal("Expected first insert to succeed")
	}

	if helper.Insert("doc::1", map[string]interface{}{"name": "replacement"}, 0, nil) {
		t.Error("Expected insert of existing key to fail")
	}

	// The stored document must be untouched.
	got := helper.Get("doc::1", nil)
	if !reflect.DeepEqual(got, original) {
		t.Errorf("Stored document was mutated: %v", got)
	}
}

func TestHelperGetMissingKey(t *testing.T) {
	helper, _ := newHelper(t)

	if got := helper.Get("missing", nil); got != nil {
		t.Errorf("Expected nil for missing key, got %v", got)
	}
}

func TestHelperUpsertReplacesDocument(t *testing.T) {
	helper, _ := newHelper(t)

	if !helper.Upsert("doc::1", map[string]interface{}{"v": "one"}, 0, nil) {
		t.Fatal("Expected upsert to succeed")
	}
	if !helper.Upsert("doc::1", map[string]interface{}{"v": "two"}, 0, nil) {
		t.Fatal("Expected second upsert to succeed")
	}

	got := helper.Get("doc::1", nil)
	if got["v"] != "two" {
		t.Errorf("Expected replaced document, got %v", got)
	}
}

func TestHelperReplaceMissingKey(t *testing.T) {
	helper, _ := newHelper(t)

	if helper.Replace("missing", map[string]interface{}{"v": "x"}, 0, nil) {
		t.Error("Expected replace of missing key to fail")
	}
}

func TestHelperRemove(t *testing.T) {
	helper, _ := newHelper(t)

	helper.Insert("doc::1", map[string]interface{}{"v": "x"}, 0, nil)

	if !helper.Remove("doc::1", nil) {
		t.Error("Expected remove to succeed")
	}
	if helper.Remove("doc::1", nil) {
		t.Error("Expected remove of missing key to fail")
	}
}

func TestHelperInsertMulti(t *testing.T) {
	helper, _ := newHelper(t)

	docs := map[string]interface{}{
		"doc::1": map[string]interface{}{"v": "one"},
		"doc::2": map[string]interface{}{"v": "two"},
	}

	if !helper.InsertMulti(docs, 0, nil, nil) {
		t.Fatal("Expected batch insert to succeed")
	}

	for key := range docs {
		if helper.Get(key, nil) == nil {
			t.Errorf("Expected document %s to be stored", key)
		}
	}
}

func TestHelperInsertMultiPartialFailure(t *testing.T) {
	helper, _ := newHelper(t)

	helper.Insert("doc::1", map[string]interface{}{"v": "existing"}, 0, nil)

	docs := map[string]interface{}{
		"doc::1": map[string]interface{}{"v": "duplicate"},
		"doc::2": map[string]interface{}{"v": "new"},
	}

	if helper.InsertMulti(docs, 0, nil, nil) {
		t.Error("Expected batch insert with duplicate key to report failure")
	}

	// The non-conflicting document is still stored.
	if helper.Get("doc::2", nil) == nil {
		t.Error("Expected doc::2 to be stored")
	}
}

func TestHelperGetMulti(t *testing.T) {
	helper, _ := newHelper(t)

	helper.Insert("doc::1", map[string]interface{}{"v": "one"}, 0, nil)
	helper.Insert("doc::2", map[string]interface{}{"v": "two"}, 0, nil)

	docs := helper.GetMulti([]string{"doc::1", "doc::2", "missing"}, nil)
	if len(docs) != 2 {
		t.Errorf("Expected 2 documents, got %d", len(docs))
	}
}

func TestHelperRemoveMulti(t *testing.T) {
	helper, _ := newHelper(t)

	helper.Insert("doc::1", map[string]interface{}{"v": "one"}, 0, nil)
	helper.Insert("doc::2", map[string]interface{}{"v": "two"}, 0, nil)

	if !helper.RemoveMulti([]string{"doc::1", "doc::2"}, nil) {
		t.Error("Expected batch remove to succeed")
	}
	if helper.RemoveMulti([]string{"doc::1"}, nil) {
		t.Error("Expected batch remove of missing keys to report failure")
	}
}

func TestHelperViewQuery(t *testing.T) {
	helper, cluster := newHelper(t)

	cluster.Bucket("test").(*fake.Bucket).ViewRows = []couchkit.ViewRow{
		{ID: "doc::1", Key: "k1", Value: map[string]interface{}{"v": "one"}},
	}

	rows := helper.ViewQuery("dd", "by_key", 10, 0, nil)
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	if rows[0].ID != "doc::1" {
		t.Errorf("Unexpected row: %+v", rows[0])
	}
}
