// Package pipeline drives one device connection end to end: connect with backoff,
// consume the preamble, demultiplex frames, decode them and deliver the results
// to a sink, with a pacing counter that schedules cooperative synchronization points.
package pipeline
