// Package pool runs remote analysis calls on a fixed number of workers.
//
// A Pool is built per workflow run: Submit a batch, drain the returned
// channel, then Close. Every submitted request yields exactly one response
// unless the submission is cancelled, the collection times out, or a worker
// cannot hand its response over within SendTimeout (counted as dropped).
//
// Remote calls run under their own deadline derived from
// context.Background(). Cancelling the submission context stops feeding and
// collecting; it never aborts a call that a worker already started.
package pool
