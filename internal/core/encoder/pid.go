package encoder

import "fmt"

// Packet identifiers, low nibble.
const (
	PIDOut   byte = 0x1
	PIDIn    byte = 0x9
	PIDSOF   byte = 0x5
	PIDSetup byte = 0xD
	PIDData0 byte = 0x3
	PIDData1 byte = 0xB
	PIDData2 byte = 0x7
	PIDMData byte = 0xF
	PIDAck   byte = 0x2
	PIDNak   byte = 0xA
	PIDStall byte = 0xE
	PIDNyet  byte = 0x6
	PIDPre   byte = 0xC
	PIDSplit byte = 0x8
	PIDPing  byte = 0x4
)

var pidNames = map[byte]string{
	PIDOut:   "OUT",
	PIDIn:    "IN",
	PIDSOF:   "SOF",
	PIDSetup: "SETUP",
	PIDData0: "DATA0",
	PIDData1: "DATA1",
	PIDData2: "DATA2",
	PIDMData: "MDATA",
	PIDAck:   "ACK",
	PIDNak:   "NAK",
	PIDStall: "STALL",
	PIDNyet:  "NYET",
	PIDPre:   "PRE",
	PIDSplit: "SPLIT",
	PIDPing:  "PING",
}

// CheckPID reports whether the high nibble is the complement of the low
// nibble.
func CheckPID(b byte) bool {
	return b>>4 == ^b&0x0F
}

// PIDName names a PID byte, or formats it in hex when it fails the check.
func PIDName(b byte) string {
	if !CheckPID(b) {
		return fmt.Sprintf("INVALID(0x%02x)", b)
	}
	if name, ok := pidNames[b&0x0F]; ok {
		return name
	}
	return "RESERVED"
}
