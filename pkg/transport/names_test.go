package transport

import "testing"

func TestDeviceLongName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"u0", "/dev/ttyUSB0"},
		{"u12", "/dev/ttyUSB12"},
		{"a1", "/dev/ttyACM1"},
		{"c3", "COM3"},
		{"/dev/ttyUSB0", "/dev/ttyUSB0"},
		{"/dev/cu.usbserial", "/dev/cu.usbserial"},
	}
	for _, c := range cases {
		if got := DeviceLongName(c.in); got != c.want {
			t.Errorf("DeviceLongName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDeviceShortName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"/dev/ttyUSB0", "u0"},
		{"/dev/ttyACM7", "a7"},
		{"COM3", "c3"},
		{"u0", "u0"},
		{"/dev/cu.usbserial", "/dev/cu.usbserial"},
	}
	for _, c := range cases {
		if got := DeviceShortName(c.in); got != c.want {
			t.Errorf("DeviceShortName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRawStatResult_TypeBits(t *testing.T) {
	dir := &RawStatResult{Mode: ModeDir | 0o755}
	if !dir.IsDir() || dir.IsFile() {
		t.Errorf("dir mode misclassified: IsDir=%v IsFile=%v", dir.IsDir(), dir.IsFile())
	}
	file := &RawStatResult{Mode: ModeFile | 0o644}
	if !file.IsFile() || file.IsDir() {
		t.Errorf("file mode misclassified: IsDir=%v IsFile=%v", file.IsDir(), file.IsFile())
	}
}
