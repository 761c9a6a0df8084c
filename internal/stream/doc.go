// Package stream runs the primary sensor pipeline together with its side
// channels and handles their shared shutdown.
package stream
