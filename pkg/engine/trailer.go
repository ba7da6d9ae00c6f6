package engine

import "strings"

const (
	trailerPrefix = "<<MODEL::"
	trailerSuffix = ">>"
)

// FormatTrailer returns the frame that ends a completed reply.
func FormatTrailer(model string) string {
	return trailerPrefix + model + trailerSuffix
}

// ParseTrailer reports whether frame is a trailer and returns its model id.
func ParseTrailer(frame string) (string, bool) {
	if !strings.HasPrefix(frame, trailerPrefix) || !strings.HasSuffix(frame, trailerSuffix) {
		return "", false
	}
	if len(frame) < len(trailerPrefix)+len(trailerSuffix) {
		return "", false
	}

	return frame[len(trailerPrefix) : len(frame)-len(trailerSuffix)], true
}
