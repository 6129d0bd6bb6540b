// Package relay forwards published AV1 image readings to secondary
// consumers: a plain RTP stream and browser viewers over WebRTC.
//
// Both sinks accept the same Send calls as the OD4 bus, so they can be
// chained behind it. Messages other than AV1 image readings are ignored.
package relay
