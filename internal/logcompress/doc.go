// Package logcompress buffers the agent's own log stream in memory and
// compresses it in the background so diagnostics channels can pull it on
// demand.
//
// Records flow through two bounded staging queues. The raw queue accumulates
// formatted records into LogBuffer segments on the emitting goroutine. A
// single worker goroutine drains sealed raw segments into an ActiveCompressor
// that lives in the staging slot of the compressed queue. Finished compressed
// segments are retrieved with Sink.GetContent.
//
// Neither queue ever blocks a producer. When a queue's ready segments would
// exceed its total budget the oldest ready segments are evicted.
package logcompress
