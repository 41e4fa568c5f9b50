package motedb

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir, DefaultOptions(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Scenario 1: basic insert, find_one by id and by field, count with $gte.
func TestScenarioBasicCRUD(t *testing.T) {
	db := openTestDB(t)

	users, err := db.CreateCollection("users", nil)
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	if _, err := users.InsertOne(bson.D{{Key: "_id", Value: int32(1)}, {Key: "email", Value: "a@x"}, {Key: "age", Value: int32(30)}}); err != nil {
		t.Fatalf("InsertOne 1: %v", err)
	}
	if _, err := users.InsertOne(bson.D{{Key: "_id", Value: int32(2)}, {Key: "email", Value: "b@x"}, {Key: "age", Value: int32(40)}}); err != nil {
		t.Fatalf("InsertOne 2: %v", err)
	}

	raw, err := users.FindOne(bson.D{{Key: "_id", Value: int32(1)}})
	if err != nil {
		t.Fatalf("FindOne by _id: %v", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["email"] != "a@x" {
		t.Errorf("expected a@x, got %v", doc["email"])
	}

	raw, err = users.FindOne(bson.D{{Key: "email", Value: "b@x"}})
	if err != nil {
		t.Fatalf("FindOne by email: %v", err)
	}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["email"] != "b@x" {
		t.Errorf("expected b@x, got %v", doc["email"])
	}

	n, err := users.Count(bson.D{{Key: "age", Value: bson.D{{Key: "$gte", Value: int32(35)}}}})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected count 1, got %d", n)
	}
}

// Scenario 2: unique index creation over an existing duplicate fails and
// leaves no subtree; scan-based lookup still works afterward.
func TestScenarioUniqueIndexRejectsExistingDuplicate(t *testing.T) {
	db := openTestDB(t)
	coll, err := db.CreateCollection("dups", nil)
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	if _, err := coll.InsertOne(bson.D{{Key: "email", Value: "x"}}); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if _, err := coll.InsertOne(bson.D{{Key: "email", Value: "x"}}); err != nil {
		t.Fatalf("insert 2: %v", err)
	}

	_, err = coll.CreateIndex(IndexKeySpec{{Field: "email", Direction: 1}}, &IndexOptions{Unique: true})
	if err == nil {
		t.Fatal("expected unique index creation to fail on existing duplicates")
	}
	if !IsKind(err, KindDuplicate) {
		t.Errorf("expected KindDuplicate, got %v", err)
	}
	if len(coll.ListIndexes()) != 0 {
		t.Error("expected no index descriptor to survive a failed creation")
	}

	raw, err := coll.FindOne(bson.D{{Key: "email", Value: "x"}})
	if err != nil {
		t.Fatalf("FindOne still via scan: %v", err)
	}
	if raw == nil {
		t.Error("expected a match via collection scan")
	}
}

// Scenario 3: index seek finds a document, delete removes it from both the
// primary tree and the index, count reflects the removal.
func TestScenarioIndexSeekAndDelete(t *testing.T) {
	db := openTestDB(t)
	coll, err := db.CreateCollection("many", nil)
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	for i := 0; i < 100; i++ {
		email := emailForIndex(i)
		if _, err := coll.InsertOne(bson.D{{Key: "email", Value: email}}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	if _, err := coll.CreateIndex(IndexKeySpec{{Field: "email", Direction: 1}}, nil); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	raw, err := coll.FindOne(bson.D{{Key: "email", Value: "user50@x"}})
	if err != nil {
		t.Fatalf("FindOne via index: %v", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	idVal := doc["_id"]

	deleted, err := coll.DeleteOne(bson.D{{Key: "_id", Value: idVal}})
	if err != nil {
		t.Fatalf("DeleteOne: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", deleted)
	}

	if _, err := coll.FindOne(bson.D{{Key: "email", Value: "user50@x"}}); !IsKind(err, KindNotFound) {
		t.Errorf("expected KindNotFound after delete, got %v", err)
	}

	n, err := coll.Count(bson.D{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 99 {
		t.Errorf("expected 99 remaining documents, got %d", n)
	}
}

func emailForIndex(i int) string {
	digits := []byte{byte('0' + i/10), byte('0' + i%10)}
	if i < 10 {
		digits = []byte{byte('0' + i)}
	}
	return "user" + string(digits) + "@x"
}

// Scenario 4: operator updates apply in order and _id is immutable.
func TestScenarioUpdateOperatorsAndImmutableID(t *testing.T) {
	db := openTestDB(t)
	coll, err := db.CreateCollection("accounts", nil)
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	if _, err := coll.InsertOne(bson.D{{Key: "_id", Value: int32(1)}, {Key: "age", Value: int32(30)}}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	matched, modified, err := coll.UpdateOne(
		bson.D{{Key: "_id", Value: int32(1)}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "age", Value: int32(1)}}}, {Key: "$set", Value: bson.D{{Key: "active", Value: true}}}},
		nil,
	)
	if err != nil {
		t.Fatalf("UpdateOne: %v", err)
	}
	if matched != 1 || modified != 1 {
		t.Fatalf("expected matched=1 modified=1, got matched=%d modified=%d", matched, modified)
	}

	raw, err := coll.FindOne(bson.D{{Key: "_id", Value: int32(1)}})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["active"] != true {
		t.Errorf("expected active=true, got %v", doc["active"])
	}

	_, _, err = coll.UpdateOne(
		bson.D{{Key: "_id", Value: int32(1)}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "_id", Value: int32(2)}}}},
		nil,
	)
	if !IsKind(err, KindImmutableId) {
		t.Errorf("expected KindImmutableId, got %v", err)
	}
}

// Scenario 5: a full-prefix composite index seek narrows to an exact match.
func TestScenarioCompositeIndexSeek(t *testing.T) {
	db := openTestDB(t)
	coll, err := db.CreateCollection("events", nil)
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	if _, err := coll.CreateIndex(IndexKeySpec{{Field: "status", Direction: 1}, {Field: "age", Direction: 1}}, nil); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	for _, d := range []bson.D{
		{{Key: "status", Value: "A"}, {Key: "age", Value: int32(10)}},
		{{Key: "status", Value: "A"}, {Key: "age", Value: int32(20)}},
		{{Key: "status", Value: "B"}, {Key: "age", Value: int32(10)}},
	} {
		if _, err := coll.InsertOne(d); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	cur, err := coll.Find(bson.D{{Key: "status", Value: "A"}})
	if err != nil {
		t.Fatalf("Find status=A: %v", err)
	}
	var count int
	for cur.Next() {
		count++
	}
	cur.Close()
	if count != 2 {
		t.Errorf("expected 2 matches for status=A, got %d", count)
	}

	cur, err = coll.Find(bson.D{{Key: "status", Value: "A"}, {Key: "age", Value: int32(20)}})
	if err != nil {
		t.Fatalf("Find status=A,age=20: %v", err)
	}
	count = 0
	var last bson.M
	for cur.Next() {
		count++
		if err := bson.Unmarshal(cur.Decode(), &last); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
	}
	cur.Close()
	if count != 1 {
		t.Fatalf("expected exactly 1 match, got %d", count)
	}
	if last["age"] != int32(20) {
		t.Errorf("expected age=20, got %v", last["age"])
	}
}

// Scenario 6: a sparse index skips documents with absent or null indexed
// fields, while the collection itself still holds all three.
func TestScenarioSparseIndex(t *testing.T) {
	db := openTestDB(t)
	coll, err := db.CreateCollection("profiles", nil)
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	if _, err := coll.CreateIndex(IndexKeySpec{{Field: "email", Direction: 1}}, &IndexOptions{Sparse: true}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	if _, err := coll.InsertOne(bson.D{{Key: "email", Value: "a@x"}}); err != nil {
		t.Fatalf("insert with email: %v", err)
	}
	if _, err := coll.InsertOne(bson.D{{Key: "name", Value: "no-email"}}); err != nil {
		t.Fatalf("insert without email: %v", err)
	}
	if _, err := coll.InsertOne(bson.D{{Key: "email", Value: nil}}); err != nil {
		t.Fatalf("insert with null email: %v", err)
	}

	n, err := coll.Count(bson.D{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 documents in collection, got %d", n)
	}

	cur, err := coll.Find(bson.D{{Key: "email", Value: bson.D{{Key: "$exists", Value: false}}}})
	if err != nil {
		t.Fatalf("Find $exists false: %v", err)
	}
	var missing int
	for cur.Next() {
		missing++
	}
	cur.Close()
	if missing != 2 {
		t.Errorf("expected 2 documents without an email field, got %d", missing)
	}
}

// Round-trip/idempotence: create_index then drop_index leaves no trace, and
// re-creating with the same name and spec succeeds.
func TestIndexCreateDropCreateRoundTrip(t *testing.T) {
	db := openTestDB(t)
	coll, err := db.CreateCollection("items", nil)
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	name, err := coll.CreateIndex(IndexKeySpec{{Field: "sku", Direction: 1}}, nil)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := coll.DropIndex(name); err != nil {
		t.Fatalf("DropIndex: %v", err)
	}
	if len(coll.ListIndexes()) != 0 {
		t.Error("expected no descriptors after drop")
	}

	if _, err := coll.CreateIndex(IndexKeySpec{{Field: "sku", Direction: 1}}, nil); err != nil {
		t.Fatalf("recreate after drop: %v", err)
	}
}

// An update that leaves every field unchanged reports zero modified and
// yields identical document bytes.
func TestUpdateNoOpLeavesDocumentUnchanged(t *testing.T) {
	db := openTestDB(t)
	coll, err := db.CreateCollection("noop", nil)
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	id, err := coll.InsertOne(bson.D{{Key: "f", Value: int32(7)}})
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	before, err := coll.FindOne(bson.D{{Key: "_id", Value: id}})
	if err != nil {
		t.Fatalf("FindOne before: %v", err)
	}

	_, modified, err := coll.UpdateOne(
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "f", Value: int32(7)}}}},
		nil,
	)
	if err != nil {
		t.Fatalf("UpdateOne: %v", err)
	}
	if modified != 0 {
		t.Errorf("expected 0 modified for a no-op update, got %d", modified)
	}

	after, err := coll.FindOne(bson.D{{Key: "_id", Value: id}})
	if err != nil {
		t.Fatalf("FindOne after: %v", err)
	}
	if string(before) != string(after) {
		t.Error("expected identical document bytes after a no-op update")
	}
}

func TestDatabaseOpenCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, DefaultOptions(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if db.IsClosed() {
		t.Fatal("freshly opened database should not be closed")
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !db.IsClosed() {
		t.Fatal("database should report closed after Close")
	}
	if err := db.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestDatabaseReopenRestoresCollectionsAndIndexes(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, DefaultOptions(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	coll, err := db.CreateCollection("widgets", nil)
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if _, err := coll.CreateIndex(IndexKeySpec{{Field: "sku", Direction: 1}}, &IndexOptions{Unique: true}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if _, err := coll.InsertOne(bson.D{{Key: "sku", Value: "w-1"}}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(dir, DefaultOptions(dir))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	if !db2.CollectionExists("widgets") {
		t.Fatal("expected widgets collection to survive reopen")
	}
	reopened := db2.GetCollection("widgets")
	if len(reopened.ListIndexes()) != 1 {
		t.Fatalf("expected 1 index to survive reopen, got %d", len(reopened.ListIndexes()))
	}

	raw, err := reopened.FindOne(bson.D{{Key: "sku", Value: "w-1"}})
	if err != nil {
		t.Fatalf("FindOne after reopen: %v", err)
	}
	if raw == nil {
		t.Fatal("expected document to survive reopen")
	}
}
