package utils

import "github.com/notargets/gocca"

// PickTestMode returns the first OCCA mode a device can actually be created
// in on this host, preferring parallel backends over Serial. The probe
// device is freed immediately; callers build their own backend from the
// mode.
func PickTestMode() string {
	modes := []string{
		`{"mode": "OpenMP"}`,
		`{"mode": "CUDA", "device_id": 0}`,
		`{"mode": "Serial"}`,
	}

	for _, props := range modes {
		device, err := gocca.NewDevice(props)
		if err == nil {
			mode := device.Mode()
			device.Free()
			return mode
		}
	}

	// Serial is always compiled into OCCA.
	return "Serial"
}
