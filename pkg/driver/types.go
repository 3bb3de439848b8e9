// pkg/driver/types.go
package driver

import (
	"errors"
	"fmt"
	"strings"
)

// ErrWrongDevice is matched by errors.Is for any identity mismatch
var ErrWrongDevice = errors.New("wrong device")

// WrongDeviceError carries the identity string that failed the vendor check
type WrongDeviceError struct {
	Identity string
	Expected string
}

func (e *WrongDeviceError) Error() string {
	return fmt.Sprintf("WRONG DEVICE: %s", e.Identity)
}

func (e *WrongDeviceError) Is(target error) bool {
	return target == ErrWrongDevice
}

// DeviceInfo contains the parsed *IDN? response
type DeviceInfo struct {
	Raw             string `json:"raw"`
	Manufacturer    string `json:"manufacturer"`
	Model           string `json:"model"`
	SerialNumber    string `json:"serial_number"`
	FirmwareVersion string `json:"firmware_version"`
}

// ParseIdentity splits an IEEE 488.2 identity string
// ("<manufacturer>,<model>,<serial>,<firmware>"). Missing fields stay empty.
func ParseIdentity(raw string) *DeviceInfo {
	info := &DeviceInfo{Raw: raw}

	fields := strings.SplitN(raw, ",", 4)
	for i, f := range fields {
		f = strings.TrimSpace(f)
		switch i {
		case 0:
			info.Manufacturer = f
		case 1:
			info.Model = f
		case 2:
			info.SerialNumber = f
		case 3:
			info.FirmwareVersion = f
		}
	}
	return info
}
