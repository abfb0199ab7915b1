// Package store persists resume positions in Redis so long-running work
// survives process restarts.
//
// Two kinds of records are kept:
//
//   - stream checkpoints (eventstream.Checkpoint), one per feed
//   - pagination states (pagination.State), one per named session
//
// Keys are deterministic and namespaced by endpoint:
//
//	mw:checkpoint:stream.wikimedia.org/v2/stream/recentchange:recentchange
//	mw:continuation:en.wikipedia.org/w/api.php:6f1c...
//
// Example usage:
//
//	st := store.NewManager(redisClient)
//	cp, err := st.LoadCheckpoint(ctx, feedURL, "recentchange")
//	if errors.Is(err, store.ErrNotFound) {
//		cp = nil // start from the live edge
//	}
//	consumer, _ := eventstream.Subscribe(cfg, cp)
//	...
//	_ = st.SaveCheckpoint(ctx, feedURL, consumer.Checkpoint())
package store
