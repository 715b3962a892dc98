package page

import "strings"

// Device is the coarse classification attached to every event. Sniffing is
// substring matching over the user agent plus viewport width; it mirrors
// what marketing dashboards segment on, not a full UA parse.
type Device struct {
	Type    string // mobile | tablet | desktop
	Browser string
	OS      string
}

const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// Sniff classifies the device from the user agent and viewport width.
func Sniff(userAgent string, viewportWidth int) Device {
	return Device{
		Type:    deviceType(userAgent, viewportWidth),
		Browser: browser(userAgent),
		OS:      operatingSystem(userAgent),
	}
}

func deviceType(ua string, width int) string {
	switch {
	case strings.Contains(ua, "iPad"):
		return DeviceTablet
	case strings.Contains(ua, "Mobi") || strings.Contains(ua, "Android") && strings.Contains(ua, "Mobile"):
		return DeviceMobile
	case width > 0 && width < 768:
		return DeviceMobile
	case width >= 768 && width < 1024:
		return DeviceTablet
	default:
		return DeviceDesktop
	}
}

func browser(ua string) string {
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "Edg/") || strings.Contains(ua, "Edge/"):
		return "edge"
	case strings.Contains(ua, "OPR/") || strings.Contains(ua, "Opera"):
		return "opera"
	case strings.Contains(ua, "SamsungBrowser"):
		return "samsung_internet"
	case strings.Contains(ua, "Firefox/"):
		return "firefox"
	case strings.Contains(ua, "Chrome/") || strings.Contains(ua, "CriOS"):
		return "chrome"
	case strings.Contains(ua, "Safari/"):
		return "safari"
	default:
		return "other"
	}
}

func operatingSystem(ua string) string {
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "Windows"):
		return "windows"
	case strings.Contains(ua, "iPhone") || strings.Contains(ua, "iPad"):
		return "ios"
	case strings.Contains(ua, "Mac OS X"):
		return "macos"
	case strings.Contains(ua, "Android"):
		return "android"
	case strings.Contains(ua, "CrOS"):
		return "chromeos"
	case strings.Contains(ua, "Linux"):
		return "linux"
	default:
		return "other"
	}
}
