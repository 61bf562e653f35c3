// Package utils holds small helpers shared by the HTTP layers.
package utils

import "crypto/rand"

// idAlphabet has exactly 64 symbols so a random byte masked with 63 picks
// one without bias.
const idAlphabet = "_-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const (
	TraceIDLength  = 8
	StreamIDLength = 6
)

// NewID returns a random URL-safe identifier of n characters.
func NewID(n int) string {
	if n <= 0 {
		return ""
	}
	buf := make([]byte, n)
	// crypto/rand.Read never fails on supported platforms.
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = idAlphabet[b&63]
	}
	return string(buf)
}

// NewTraceID tags one HTTP request in the logs.
func NewTraceID() string {
	return NewID(TraceIDLength)
}

// NewStreamID tags one log stream connection in the logs.
func NewStreamID() string {
	return NewID(StreamIDLength)
}
