// Package perfevent provides access to the linux perf_event_open subsystem for counting and sampling.
//
// Usage follows a fixed flow. First resolve a kernelsupport.CapabilitySet once. Then build an immutable Attr with
// NewCountingAttr or NewSamplingAttr, which silently leaves out every option the capability set does not support.
// Last, open a session with a Builder that has both a pid and a cpu target set. Counting sessions read counter
// values, Sampling sessions decode the records the kernel writes into the ring buffer.
//
// Sessions are not safe for concurrent use. All of them must be closed to release their file descriptors and
// mappings.
package perfevent
