// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives shared by the allocator and the event loops: a
// striped counter for hot statistics and OS thread pinning.
package concurrency
