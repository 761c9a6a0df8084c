// Package message decodes the JSON payloads carried by protocol frames.
// Primary stream messages become Samples (color image, depth grid, pose, acceleration);
// side channel messages become AudioSamples.
package message
