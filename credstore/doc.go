// Package credstore is a SQL-backed credential store and role registry for
// gatekeeper. It works with any database/sql driver that sqlx can rebind for;
// production uses Postgres through lib/pq.
package credstore
