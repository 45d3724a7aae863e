// Package scheduler manages the live reminder triggers, one per tenant,
// on top of robfig/cron.
//
// Fires are decoupled from cron's goroutine through a bounded queue and
// a small worker pool. Every trigger carries a generation number;
// Upsert and Remove bump or drop it, and a fire whose generation no
// longer matches is discarded at execution time. That makes Remove
// effective immediately even against a fire already in flight through
// the queue.
//
// Registering triggers while stopped is supported: cron entries are
// added to the (not yet started) runner and begin firing on Start.
package scheduler
