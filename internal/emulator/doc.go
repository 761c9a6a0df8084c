// Package emulator plays the phone's role for local testing. It serves
// synthetic color, depth, pose and audio messages in the device wire format.
package emulator
