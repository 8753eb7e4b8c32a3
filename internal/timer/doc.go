// Package timer provides owned one-shot callback timers.
//
// A Timer is bound to a zero-argument callback at construction and is not
// running until Start is called. Every Start, Stop and Close bumps a
// generation counter, so a callback scheduled by an earlier arming never
// runs once the timer has been re-armed, stopped or closed.
//
// When a dispatcher is supplied the callback is posted to it and checked
// again on the dispatcher before running. Owners that stop or close their
// timers on that same dispatcher therefore never observe a late callback.
package timer
