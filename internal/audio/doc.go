// Package audio handles the PCM-16 audio received on the side channel:
// WAV encoding, streaming WAV files, level metering and playback through an external player.
package audio
