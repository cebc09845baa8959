// Package ingest turns raw active-order feed batches into typed events.
//
// Each watched account has its own channel on the connection manager. A
// batch from that channel is decoded, stripped of exact duplicates and
// sorted by update time before any update in it is classified:
//
//	INACTIVE            -> EventCancelled
//	FILLED              -> EventFilled
//	ACTIVE (own wallet) -> EventOwnUpdate
//	ACTIVE (source)     -> EventCandidate or EventFiltered
//
// Source updates that are partially filled or have a pending fill are
// skipped. Candidates pass through the filter chain in a fixed order
// (sport, market type, league, parlay, live, price range) and the first
// failing filter names the rejection reason.
//
// Events are delivered on a single channel returned by Stage.Events. The
// stage never calls into the consumer.
package ingest
