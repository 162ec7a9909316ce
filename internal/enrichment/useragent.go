package enrichment

import "strings"

const Unknown = "Unknown"

// ParseBrowser maps a user-agent string to a browser family. Order matters:
// Opera and Edge agents also advertise Chrome, and Chrome advertises Safari.
func ParseBrowser(ua string) string {
	switch {
	case ua == "":
		return Unknown
	case strings.Contains(ua, "OPR") || strings.Contains(ua, "Opera"):
		return "Opera"
	case strings.Contains(ua, "Edg"):
		return "Edge"
	case strings.Contains(ua, "Chrome"):
		return "Chrome"
	case strings.Contains(ua, "Firefox"):
		return "Firefox"
	case strings.Contains(ua, "Safari"):
		return "Safari"
	}
	return Unknown
}

// ParsePlatform maps a user-agent string to an OS family. Android agents
// also contain "Linux" and iOS agents contain "Mac OS X", so they are checked first.
func ParsePlatform(ua string) string {
	switch {
	case ua == "":
		return Unknown
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "iPhone") || strings.Contains(ua, "iPad") || strings.Contains(ua, "iOS"):
		return "iOS"
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "Mac OS") || strings.Contains(ua, "Macintosh"):
		return "Mac"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	}
	return Unknown
}
