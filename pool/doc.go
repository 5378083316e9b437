// Package pool
// Author: momentics <momentics@gmail.com>
//
// Buffer and object pooling for the arbiter's socket read path: a
// fixed-size []byte pool for per-read scratch buffers and a generic
// object pool for per-connection records, both backed by sync.Pool.
// See bytepool.go and objpool.go for implementation details.
package pool
