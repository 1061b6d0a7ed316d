package internal

import "strings"

// Coarse device classes derived from the User-Agent header. Best-effort
// metadata for session listings and audit records, never a trust decision.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
	DeviceUnknown = "unknown"
)

// ClassifyUserAgent maps a raw User-Agent string to a coarse device class.
// Tablets are checked before mobiles because tablet UAs frequently carry
// "Android" or other mobile markers as well.
func ClassifyUserAgent(userAgent string) string {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return DeviceUnknown
	}

	for _, marker := range []string{"ipad", "tablet", "kindle", "silk", "playbook"} {
		if strings.Contains(ua, marker) {
			return DeviceTablet
		}
	}
	for _, marker := range []string{"mobi", "iphone", "android", "ipod", "blackberry", "windows phone", "opera mini"} {
		if strings.Contains(ua, marker) {
			return DeviceMobile
		}
	}
	for _, marker := range []string{"windows nt", "macintosh", "x11", "cros", "linux"} {
		if strings.Contains(ua, marker) {
			return DeviceDesktop
		}
	}

	return DeviceUnknown
}
