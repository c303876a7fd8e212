package pulse

import (
	"fmt"
	"strings"
)

// Domain is the identifier namespace used for unique ids and device info.
const Domain = "adtpulse"

// Binary sensor device classes understood by Home Assistant.
const (
	DeviceClassCO           = "carbon_monoxide"
	DeviceClassDoor         = "door"
	DeviceClassWindow       = "window"
	DeviceClassMoisture     = "moisture"
	DeviceClassGarageDoor   = "garage_door"
	DeviceClassHeat         = "heat"
	DeviceClassMotion       = "motion"
	DeviceClassSmoke        = "smoke"
	DeviceClassSound        = "sound"
	DeviceClassProblem      = "problem"
	DeviceClassConnectivity = "connectivity"
)

// keep these alphabetized
var deviceClassByTag = map[string]string{
	"co":         DeviceClassCO,
	"doorWindow": DeviceClassDoor,
	"fire":       DeviceClassHeat,
	"flood":      DeviceClassMoisture,
	"garage":     DeviceClassGarageDoor,
	"glass":      DeviceClassSound,
	"motion":     DeviceClassMotion,
	"smoke":      DeviceClassSmoke,
}

// ZoneIsOpen reports whether a zone is opened or tripped.
func ZoneIsOpen(z Zone) bool {
	return z.State != ZoneStateOK
}

// ZoneIsInTrouble reports whether a zone has a non-online status
// (low battery, tamper, offline...).
func ZoneIsInTrouble(z Zone) bool {
	return z.Status != ZoneStatusOnline
}

// SystemCanBeArmed reports whether the system can be armed without forcing:
// no zone is open or in trouble. A nil slice means the zones were never
// loaded and is not armable; a site with no zones is.
func SystemCanBeArmed(zones []Zone) bool {
	if zones == nil {
		return false
	}
	for _, z := range zones {
		if ZoneIsOpen(z) || ZoneIsInTrouble(z) {
			return false
		}
	}
	return true
}

// ZoneDeviceClass maps a zone's tags to a binary sensor device class.
// Door sensors whose name mentions a window are reported as windows.
func ZoneDeviceClass(z Zone) (string, error) {
	class := ""
	if hasTag(z.Tags, "sensor") {
		for _, tag := range z.Tags {
			if c, ok := deviceClassByTag[tag]; ok {
				class = c
				break
			}
		}
	}
	if class == "" {
		return "", fmt.Errorf("unsupported zone %q, tags %v", z.Name, z.Tags)
	}
	if class == DeviceClassDoor && strings.Contains(strings.ToLower(z.Name), "window") {
		class = DeviceClassWindow
	}
	return class, nil
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// AlarmUniqueID returns the unique id of the alarm panel for a site.
func AlarmUniqueID(siteID string) string {
	return "adt_pulse_alarm_" + siteID
}

// GatewayUniqueID returns the unique id of the gateway for a site.
func GatewayUniqueID(siteID string) string {
	return "adt_pulse_gateway_" + siteID
}

// ZoneUniqueID returns the unique id of a zone's open/closed sensor.
func ZoneUniqueID(siteID string, zoneID int) string {
	return fmt.Sprintf("adt_pulse_sensor_%s_%d", siteID, zoneID)
}

// ZoneTroubleUniqueID returns the unique id of a zone's trouble sensor.
func ZoneTroubleUniqueID(siteID string, zoneID int) string {
	return fmt.Sprintf("adt_pulse_trouble_sensor_%s_%d", siteID, zoneID)
}
