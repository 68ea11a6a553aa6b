// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package concurrency provides the two queue flavors the scheduler is built
// on: a padded single-producer/single-consumer ring used as each worker's
// private run queue, and a mutex-guarded multi-producer queue used for
// cross-thread wakeups and the global injector. The SharedQueue instances
// are the only cross-core contention points in the whole runtime.
package concurrency
