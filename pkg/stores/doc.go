// Package stores persists zaps, their steps, the trigger and action
// catalog, connections and execution history.
//
// SQLite (modernc.org/sqlite, WAL mode) is the default backend; Postgres
// (lib/pq) shares the same SQL with placeholders rebound. Schemas are
// embedded and applied with golang-migrate.
package stores
