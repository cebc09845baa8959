// Package database manages the PostgreSQL pool behind the optional audit
// trail.
//
// The bot keeps no state in the database; the copy_events table is an
// append-only record of what the bot saw and did, written in batches by
// the telemetry audit sink.
package database
