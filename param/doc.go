// Package param implements double-buffered configuration cells for a
// real-time control loop.
//
// Every Parameter holds two value slots. A BufferSwitch, shared by all
// parameters under one Root, selects the active slot read by the real-time
// task; the other slot is the background slot written by the background
// task. New values become visible only when the background task has
// verified the owning Component and the Root flips the switch, so the
// real-time read path is a single atomic load with no locks.
//
// Components form a tree rooted at a Root. The tree is built at
// configuration time; Build then walks it once to produce a Registry that
// indexes components and parameters by fully-qualified dotted name.
//
// Only the background task may call the mutating methods (SetJSONValue,
// SyncWriteBuffer, Commit and friends). The real-time task is restricted to
// Value, At and Compare, and must be scheduled so that it never runs in the
// middle of a background commit.
package param
