// Package sink holds the consumers of decoded samples: logging, recording to
// compressed files, publishing to Redis and audio output.
package sink
