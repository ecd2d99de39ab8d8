package projection

import (
	"github.com/Masterminds/semver/v3"
	"github.com/benmeehan/fleet-monitor/internal/models"
)

// Summary aggregates a device list.
type Summary struct {
	Total          int            `json:"total"`
	Online         int            `json:"online"`
	Offline        int            `json:"offline"`
	Firmware       map[string]int `json:"firmware"`
	LatestFirmware string         `json:"latest_firmware,omitempty"`
	Outdated       int            `json:"outdated"`
}

// Summarize counts devices by liveness and firmware. Devices that never
// reported a version are counted under "unknown".
func Summarize(views []models.DeviceView) Summary {
	s := Summary{
		Total:    len(views),
		Firmware: make(map[string]int),
	}

	var latest *semver.Version
	for _, v := range views {
		if v.IsOnline {
			s.Online++
		}
		if v.FirmwareOutdated {
			s.Outdated++
		}

		fw := v.Firmware()
		if fw == "" {
			s.Firmware["unknown"]++
			continue
		}
		s.Firmware[fw]++

		if ver, err := semver.NewVersion(fw); err == nil && (latest == nil || ver.GreaterThan(latest)) {
			latest = ver
			s.LatestFirmware = fw
		}
	}
	s.Offline = s.Total - s.Online
	return s
}

// MarkOutdated flags every view whose firmware is an older semantic version
// than the newest one in the list. Unparsable versions are never flagged.
func MarkOutdated(views []models.DeviceView) {
	versions := make([]*semver.Version, len(views))

	var latest *semver.Version
	for i, v := range views {
		ver, err := semver.NewVersion(v.Firmware())
		if err != nil {
			continue
		}
		versions[i] = ver
		if latest == nil || ver.GreaterThan(latest) {
			latest = ver
		}
	}

	for i := range views {
		views[i].FirmwareOutdated = versions[i] != nil && versions[i].LessThan(latest)
	}
}
