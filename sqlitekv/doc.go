// Package sqlitekv implements the chatsync durable key-value store on SQLite.
//
// It targets the embedded, single-user database of a mobile or desktop client
// (driver: modernc.org/sqlite, pure Go). Open owns the database handle; use
// NewStore to share an existing one.
package sqlitekv
