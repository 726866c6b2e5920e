package transport

import "regexp"

var (
	shortUSB = regexp.MustCompile(`^u([0-9]+)$`)
	shortACM = regexp.MustCompile(`^a([0-9]+)$`)
	shortCOM = regexp.MustCompile(`^c([0-9]+)$`)

	longUSB = regexp.MustCompile(`^/dev/ttyUSB([0-9]+)$`)
	longACM = regexp.MustCompile(`^/dev/ttyACM([0-9]+)$`)
	longCOM = regexp.MustCompile(`^COM([0-9]+)$`)
)

// DeviceLongName expands an abbreviated serial port name ("u0", "a1", "c2")
// to the full device file name. Full names pass through unchanged.
func DeviceLongName(device string) string {
	device = shortUSB.ReplaceAllString(device, "/dev/ttyUSB$1")
	device = shortACM.ReplaceAllString(device, "/dev/ttyACM$1")
	device = shortCOM.ReplaceAllString(device, "COM$1")
	return device
}

// DeviceShortName abbreviates a full serial port name. Names that do not
// match a known pattern pass through unchanged.
func DeviceShortName(device string) string {
	device = longUSB.ReplaceAllString(device, "u$1")
	device = longACM.ReplaceAllString(device, "a$1")
	device = longCOM.ReplaceAllString(device, "c$1")
	return device
}
