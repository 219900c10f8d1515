// Package radio puts identity frames on the air through BlueZ. It wraps
// the tinygo bluetooth adapter for advertising, programs the controller
// address, and carries the host-side preflight checks.
package radio

import (
	"fmt"
	"time"

	"tinygo.org/x/bluetooth"

	"hybridtag/internal/identity"
)

// advertisementOptions maps a prebuilt frame onto tinygo advertising
// options. The frame's 2-byte prefix is re-expressed through the element
// type (manufacturer data carries the company ID, service data the
// 16-bit UUID), so only the payload after it goes into Data.
func advertisementOptions(p identity.Protocol, frame []byte, localName string, connectable bool, interval time.Duration) (bluetooth.AdvertisementOptions, error) {
	opts := bluetooth.AdvertisementOptions{
		LocalName:         localName,
		AdvertisementType: bluetooth.AdvertisingTypeNonConnInd,
		Interval:          bluetooth.NewDuration(interval),
	}
	if connectable {
		opts.AdvertisementType = bluetooth.AdvertisingTypeInd
	}

	switch p {
	case identity.ProtocolApple:
		if len(frame) != identity.AppleFrameLen {
			return opts, fmt.Errorf("apple frame must be %d bytes, got %d", identity.AppleFrameLen, len(frame))
		}
		if frame[0] != byte(identity.AppleCompanyID&0xFF) || frame[1] != byte(identity.AppleCompanyID>>8) {
			return opts, fmt.Errorf("frame does not start with the apple company ID: %02x%02x", frame[0], frame[1])
		}
		opts.ManufacturerData = []bluetooth.ManufacturerDataElement{{
			CompanyID: identity.AppleCompanyID,
			Data:      frame[2:],
		}}

	case identity.ProtocolGoogle:
		if len(frame) != identity.GoogleFrameLen {
			return opts, fmt.Errorf("google frame must be %d bytes, got %d", identity.GoogleFrameLen, len(frame))
		}
		if frame[0] != byte(identity.FMDNServiceUUID&0xFF) || frame[1] != byte(identity.FMDNServiceUUID>>8) {
			return opts, fmt.Errorf("frame does not start with the FMDN service UUID: %02x%02x", frame[0], frame[1])
		}
		opts.ServiceData = []bluetooth.ServiceDataElement{{
			UUID: bluetooth.New16BitUUID(identity.FMDNServiceUUID),
			Data: frame[2:],
		}}

	default:
		return opts, fmt.Errorf("unknown protocol %d", p)
	}
	return opts, nil
}
