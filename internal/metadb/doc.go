// Package metadb persists what the cache knows about each URL: the relative
// path of the downloaded body plus the Last-Modified and ETag validators the
// origin sent with it. Storage is a single SQLite table keyed by the URL with
// its fragment stripped, so lookups and upserts for fragment variants of the
// same URL always land on the same row. Writes happen inside an explicit
// transaction object whose Close rolls back anything not committed, which is
// what lets the engine stream a body to disk and only publish the row once
// the copy finished.
package metadb
