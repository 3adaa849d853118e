// Package lanes runs typed work units on independent worker lanes.
//
// Each lane owns a bounded queue and a fixed number of workers. Units are
// routed by their Lane() and never borrow workers from another lane, so a
// burst of one unit type cannot starve the other, and the per-lane worker
// count caps load on the extraction service. A unit that fails or panics is
// reported through the failure callback and the lane keeps draining. Start
// never waits on anything external; workers begin pulling immediately.
package lanes
