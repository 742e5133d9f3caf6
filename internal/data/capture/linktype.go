package capture

import (
	"encoding/binary"
	"fmt"

	"github.com/penwyp/go-usbll2sr/internal/core/model"
)

// USB 2.0 link-layer link types. gopacket's layers.LinkType is eight bits
// wide and cannot carry them, so they are read from the raw file header.
const (
	LinkTypeUSB20          uint32 = 288
	LinkTypeUSB20LowSpeed  uint32 = 293
	LinkTypeUSB20FullSpeed uint32 = 294
	LinkTypeUSB20HighSpeed uint32 = 295
)

const pcapngMagic = 0x0A0D0D0A

// classicLinkType extracts the link type from a classic pcap file header.
func classicLinkType(hdr []byte) (uint32, bool) {
	if len(hdr) < 24 {
		return 0, false
	}
	var order binary.ByteOrder
	switch binary.LittleEndian.Uint32(hdr[0:4]) {
	case 0xA1B2C3D4, 0xA1B23C4D:
		order = binary.LittleEndian
	case 0xD4C3B2A1, 0x4D3CB2A1:
		order = binary.BigEndian
	default:
		return 0, false
	}
	// The upper bits carry FCS information in newer headers.
	return order.Uint32(hdr[20:24]) & 0xFFFF, true
}

// SpeedForLinkType maps a USB link type to the speed it declares.
func SpeedForLinkType(linkType uint32) (model.Speed, error) {
	switch linkType {
	case LinkTypeUSB20LowSpeed:
		return model.LowSpeed, nil
	case LinkTypeUSB20FullSpeed:
		return model.FullSpeed, nil
	case LinkTypeUSB20HighSpeed:
		return model.SpeedUnknown, fmt.Errorf("%w: High-Speed capture (link type %d)", model.ErrUnsupportedSpeed, linkType)
	default:
		return model.SpeedUnknown, fmt.Errorf("%w: link type %d does not declare a speed, set one explicitly",
			model.ErrUnsupportedSpeed, linkType)
	}
}
