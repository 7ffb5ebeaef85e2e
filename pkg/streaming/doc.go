// Package streaming defines the message shape every streaming operator,
// channel and dispatcher exchanges: an alternating stream of data chunks
// and barriers. Sub-packages build on top of it —
// pkg/streaming/executor implements the operators, pkg/streaming/channel
// the transport between them.
package streaming
