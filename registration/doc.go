/*
Package registration implements the submission-timing and lifecycle engine.

Each instance watches the chain for new blocks and races to submit a
burned_register extrinsic as early as possible within the blocks assigned
to its slot. Eligibility is a pure modular partition of the block-number
space, so N instances with distinct partition indices cover every block
between them with zero coordination.

Dispatch never waits for inclusion: a submitted extrinsic is handed to a
bounded pool of finalization watchers while the scheduler immediately
returns to the block stream. Watcher outcomes are classified and recorded
but never feed back into scheduling state; retries happen naturally on the
next eligible block.
*/
package registration
