//go:build !sqlite_fts5

package storage

// The notes_fts shadow table is an FTS5 virtual table, and
// mattn/go-sqlite3 only compiles FTS5 in behind the sqlite_fts5 build
// tag. Without it every Open fails at runtime with "no such module:
// fts5", so refuse to build at all:
//
//	go build -tags sqlite_fts5 ./...
//	go test -tags sqlite_fts5 ./...
var _ = Build_with__tags_sqlite_fts5__see_internal_storage_fts5_go
