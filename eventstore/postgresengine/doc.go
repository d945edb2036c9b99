// Package postgresengine provides a PostgreSQL-backed implementation of the
// eventstore.StreamStore contract.
//
// Expected schema:
//
//	CREATE TABLE IF NOT EXISTS events (
//	    stream_id      TEXT        NOT NULL,
//	    stream_type    TEXT        NOT NULL DEFAULT '',
//	    stream_version BIGINT      NOT NULL,
//	    event_type     TEXT        NOT NULL,
//	    discriminator  TEXT        NOT NULL,
//	    occurred_at    TIMESTAMPTZ NOT NULL,
//	    payload        JSONB       NOT NULL,
//	    PRIMARY KEY (stream_id, stream_version)
//	);
//
// The current stream version is derived as MAX(stream_version) inside the
// append statement itself: the insert is gated on the expected version via
// a CTE, so a concurrent writer either makes the gate fail (zero rows
// affected) or trips the primary key on the contested version slot. Both
// outcomes are normalized into eventstore.ConcurrencyError.
package postgresengine
