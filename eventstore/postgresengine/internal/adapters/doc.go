// Package adapters provides database adapters that normalize pgx, sqlx and
// database/sql behind one interface consumed by the postgres engine.
package adapters
