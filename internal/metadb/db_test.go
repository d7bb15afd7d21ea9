package metadb

import (
	"errors"
	"net/url"
	"path/filepath"
	"testing"
)

func TestOpenCreatesSchema(t *testing.T) {
	db := newMemoryDB(t)

	names := tableNames(t, db)
	if len(names) != 1 || names[0] != "urls" {
		t.Fatalf("unexpected tables after fresh open: %v", names)
	}
}

func TestOpenExistingKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	db1, err := Open(path)
	if err != nil {
		t.Fatalf("first open error: %v", err)
	}
	mustSet(t, db1, "http://example.com/", Record{Path: "content/one"})
	if err := db1.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("second open error: %v", err)
	}
	defer db2.Close()

	rec, err := db2.Get(mustParse(t, "http://example.com/"))
	if err != nil {
		t.Fatalf("get after reopen error: %v", err)
	}
	if rec.Path != "content/one" {
		t.Fatalf("unexpected record after reopen: %+v", rec)
	}
}

func TestOpenMissingParentDir(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "does", "not", "exist", "cache.db")); err == nil {
		t.Fatal("expected error for missing parent directory")
	}
}

func TestGetFromEmptyDB(t *testing.T) {
	db := newMemoryDB(t)

	_, err := db.Get(mustParse(t, "http://example.com/"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetUnknownURL(t *testing.T) {
	db := newMemoryDB(t)
	mustSet(t, db, "http://example.com/one", Record{Path: "path/to/data"})

	_, err := db.Get(mustParse(t, "http://example.com/two"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	db := newMemoryDB(t)

	orig := Record{
		Path:         "path/to/data",
		LastModified: "Thu, 01 Jan 1970 00:00:00 GMT",
		ETag:         "some-etag",
	}
	mustSet(t, db, "http://example.com/", orig)

	got, err := db.Get(mustParse(t, "http://example.com/"))
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got != orig {
		t.Fatalf("record mismatch: got %+v want %+v", got, orig)
	}
}

func TestRoundTripWithoutValidators(t *testing.T) {
	db := newMemoryDB(t)

	orig := Record{Path: "path/to/data"}
	mustSet(t, db, "http://example.com/", orig)

	got, err := db.Get(mustParse(t, "http://example.com/"))
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got != orig {
		t.Fatalf("record mismatch: got %+v want %+v", got, orig)
	}
}

func TestCorruptPathColumn(t *testing.T) {
	db := newMemoryDB(t)

	_, err := db.conn.Exec(
		"INSERT INTO urls (url, path, last_modified, etag) VALUES ('http://example.com/', CAST('abc' AS BLOB), NULL, NULL)",
	)
	if err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}

	_, err = db.Get(mustParse(t, "http://example.com/"))
	if !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
}

func TestCorruptValidatorColumnsDegradeToAbsent(t *testing.T) {
	db := newMemoryDB(t)

	_, err := db.conn.Exec(
		"INSERT INTO urls (url, path, last_modified, etag) VALUES ('http://example.com/', 'path/to/data', CAST('abc' AS BLOB), CAST('def' AS BLOB))",
	)
	if err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}

	got, err := db.Get(mustParse(t, "http://example.com/"))
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	want := Record{Path: "path/to/data"}
	if got != want {
		t.Fatalf("record mismatch: got %+v want %+v", got, want)
	}
}

func TestGetIgnoresFragment(t *testing.T) {
	db := newMemoryDB(t)

	orig := Record{Path: "path/to/data"}
	mustSet(t, db, "http://example.com/", orig)

	got, err := db.Get(mustParse(t, "http://example.com/#top"))
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got != orig {
		t.Fatalf("record mismatch: got %+v want %+v", got, orig)
	}
}

func TestSetIgnoresFragment(t *testing.T) {
	db := newMemoryDB(t)

	one := Record{Path: "path/to/data/one", ETag: "one"}
	two := Record{Path: "path/to/data/two", ETag: "two"}

	mustSet(t, db, "http://example.com/#frag", one)
	mustSet(t, db, "http://example.com/", two)

	for _, variant := range []string{
		"http://example.com/#frag",
		"http://example.com/#garf",
		"http://example.com/",
	} {
		got, err := db.Get(mustParse(t, variant))
		if err != nil {
			t.Fatalf("get %s error: %v", variant, err)
		}
		if got != two {
			t.Fatalf("get %s: got %+v want %+v", variant, got, two)
		}
	}

	// Writing under a fragment variant updates the shared row too.
	mustSet(t, db, "http://example.com/#boop", one)
	got, err := db.Get(mustParse(t, "http://example.com/"))
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got != one {
		t.Fatalf("record mismatch after fragment write: got %+v want %+v", got, one)
	}
}

func TestSetWithoutCommitRollsBack(t *testing.T) {
	db := newMemoryDB(t)

	tx, err := db.Set(mustParse(t, "http://example.com/"), Record{Path: "path/to/data"})
	if err != nil {
		t.Fatalf("set error: %v", err)
	}
	if err := tx.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}

	_, err = db.Get(mustParse(t, "http://example.com/"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after rollback, got %v", err)
	}
}

func TestCloseAfterCommitIsNoop(t *testing.T) {
	db := newMemoryDB(t)

	rec := Record{Path: "path/to/data"}
	tx, err := db.Set(mustParse(t, "http://example.com/"), rec)
	if err != nil {
		t.Fatalf("set error: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit error: %v", err)
	}
	if err := tx.Close(); err != nil {
		t.Fatalf("close after commit error: %v", err)
	}

	got, err := db.Get(mustParse(t, "http://example.com/"))
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got != rec {
		t.Fatalf("record mismatch: got %+v want %+v", got, rec)
	}
}

func TestOverwrite(t *testing.T) {
	db := newMemoryDB(t)
	u := "http://example.com/"

	one := Record{Path: "path/to/data/one", ETag: "one"}
	two := Record{Path: "path/to/data/two", ETag: "two"}

	mustSet(t, db, u, one)
	got, err := db.Get(mustParse(t, u))
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got != one {
		t.Fatalf("record mismatch: got %+v want %+v", got, one)
	}

	mustSet(t, db, u, two)
	got, err = db.Get(mustParse(t, u))
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got != two {
		t.Fatalf("record mismatch after overwrite: got %+v want %+v", got, two)
	}
}

func TestEqualPathsForEquivalentSpellings(t *testing.T) {
	root := t.TempDir()

	db1, err := Open(filepath.Join(root, "cache.db"))
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer db1.Close()

	db2, err := Open(filepath.Join(root, "sub", "..", "cache.db"))
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer db2.Close()

	if db1.Path() != db2.Path() {
		t.Fatalf("paths differ: %q vs %q", db1.Path(), db2.Path())
	}

	db3, err := Open(filepath.Join(root, "other.db"))
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer db3.Close()

	if db1.Path() == db3.Path() {
		t.Fatalf("distinct databases share a path: %q", db1.Path())
	}
}

// newMemoryDB returns an in-memory DB that closes with the test.
func newMemoryDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url %s: %v", raw, err)
	}
	return u
}

func mustSet(t *testing.T, db *DB, raw string, rec Record) {
	t.Helper()
	tx, err := db.Set(mustParse(t, raw), rec)
	if err != nil {
		t.Fatalf("set %s: %v", raw, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit %s: %v", raw, err)
	}
}

func tableNames(t *testing.T, db *DB) []string {
	t.Helper()
	rows, err := db.conn.Query("SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan table name: %v", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate table names: %v", err)
	}
	return names
}
