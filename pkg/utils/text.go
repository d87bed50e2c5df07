package utils

// Truncate returns s shortened to at most maxLen bytes, with the tail replaced
// by "..." when anything was cut. If maxLen is 0 or negative, returns s
// unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
