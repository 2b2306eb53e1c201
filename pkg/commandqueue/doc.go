// Package commandqueue buffers browser-side commands per voice call.
//
// Invariants:
//   - At most one sequence exists per call ID; it is created by the first Enqueue.
//   - Commands for one call ID are returned in Enqueue order.
//   - Drain reads and empties a sequence atomically, so a command is returned
//     by exactly one Drain unless the Sweeper evicts it first.
//   - Nothing is ordered across different call IDs.
//
// Usage:
//
//	queue := commandqueue.New()
//	_, err := queue.Enqueue(ctx, callID, commandqueue.Command{
//		Kind:    commandqueue.KindNavigate,
//		Payload: "/checkout",
//	})
//	batch := queue.Drain(ctx, callID)
package commandqueue
