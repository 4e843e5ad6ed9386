package node

import "strconv"

// formatTimestamp renders a timestamp the way the wire protocol expects:
// the shortest round-trippable decimal form of the float, without an
// exponent (e.g. 1319876543.125), matching Python's repr(float) for
// epoch-second values.
func formatTimestamp(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}

func parseTimestamp(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
