// Package session provides the unit-of-work layer on top of a stream store:
// an aggregate replay/emit abstraction, an event decode registry, and a
// Session that batches multi-aggregate changes into independently committed
// stream appends.
//
// A Session owns an identity map guaranteeing one aggregate instance per
// (kind, id) for its lifetime, tracks uncommitted events, and on SaveChanges
// appends each aggregate's events under its expected version. There is no
// cross-stream atomicity: every eligible entry is attempted regardless of
// earlier failures, successes stay committed, and all causes are surfaced
// together in one SaveFailure.
//
// Typical usage:
//
//	sess := session.NewSession(store, registry, logger)
//	defer sess.Close()
//
//	hotel, err := session.Load[*fixtures.Hotel](ctx, sess, hotelID)
//	if err != nil {
//		// handle ErrAggregateNotFound or a store failure
//	}
//
//	if err := hotel.Rename("Grand Budapest"); err != nil {
//		// handle domain error
//	}
//
//	if err := sess.SaveChanges(ctx); err != nil {
//		var failure *session.SaveFailure
//		if errors.As(err, &failure) {
//			// inspect failure.Causes, successes stay committed
//		}
//	}
//
// A Session is meant for one logical thread of control; it performs no
// internal locking.
package session
