// Package eventstream consumes server-sent event feeds such as Wikimedia
// EventStreams.
//
// A Consumer keeps one long-lived connection open and reconnects on
// disconnects and stalls, resuming from its in-memory Checkpoint:
//
//	cfg := eventstream.DefaultConfig(eventstream.RecentChangeURL, "MyBot/1.0 (bot@example.org)")
//	consumer, err := eventstream.Subscribe(cfg, savedCheckpoint)
//	...
//	for ev, err := range consumer.Events(ctx) {
//		if err != nil {
//			// *SubscriptionError carries the checkpoint to resume from
//			break
//		}
//		var rc eventstream.RecentChangeEvent
//		if err := ev.Decode(&rc); err != nil {
//			continue
//		}
//		...
//		store.SaveCheckpoint(ctx, consumer.Checkpoint())
//	}
//
// The checkpoint is advanced before each event is returned. Persisting it
// after processing gives at-least-once delivery across restarts.
package eventstream
