// Package protocol implements the device's framing protocol.
// It handles the one-time connection preamble, the 100-byte text frame header,
// payload reassembly across partial reads, trailer consumption and unknown-frame reporting.
package protocol
