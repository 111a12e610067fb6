package insteon

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// PLM serial-protocol framing bytes. Every host-originated frame starts
// with frameStart; the modem answers each send with frameAck or frameNak
// appended to the echoed frame.
const (
	frameStart = 0x02
	frameAck   = 0x06
	frameNak   = 0x15

	cmdSendMessage = 0x62 // host -> modem: send an Insteon message
	evtStdMessage  = 0x50 // modem -> host: standard message received
	evtExtMessage  = 0x51 // modem -> host: extended message received
)

// Message flag bytes. Standard direct messages use 3 max hops / 3 hops
// left; the extended bit selects the 14-byte user-data form.
const (
	flagsStdDirect = 0x0F
	flagsExtDirect = 0x1F

	// flagBroadcastMask selects the message-type bits that mark group
	// broadcasts and cleanups (physical device activity).
	flagBroadcastMask = 0xE0
	flagAllLinkBcast  = 0xC0
	flagAllLinkClean  = 0x40
	flagDirectAck     = 0x20
	flagDirectNak     = 0xA0
)

// Standard-message command bytes (cmd1).
const (
	cmdOn            = 0x11
	cmdOnFast        = 0x12
	cmdOff           = 0x13
	cmdOffFast       = 0x14
	cmdBrighten      = 0x15
	cmdDim           = 0x16
	cmdStatusRequest = 0x19
	cmdInstantChange = 0x21
	cmdOnAtRamp      = 0x2E // standard form: level/rate packed into cmd2
	cmdOffAtRamp     = 0x2F
	cmdExtSetGet     = 0x2E // extended form: get/set of per-unit registers
)

// Extended set/get register selectors (D2 of a 0x2E write).
const (
	regSetRampRate = 0x05
	regSetOnLevel  = 0x06
)

// Frame lengths (excluding the leading frameStart byte).
const (
	stdMessageLen = 9  // evtStdMessage: from(3) to(3) flags cmd1 cmd2
	extMessageLen = 23 // evtExtMessage: std + 14 user-data bytes
	sendEchoLen   = 7  // cmdSendMessage echo: to(3) flags cmd1 cmd2 ack
)

// rampRates maps the 5-bit ramp-rate register value to a ramp duration in
// milliseconds. Index 0 is the firmware default.
var rampRates = [32]int{
	2000, 480000, 420000, 360000, 300000, 270000, 240000, 210000,
	180000, 150000, 120000, 90000, 60000, 47000, 43000, 38500,
	34000, 32000, 30000, 28000, 26000, 23500, 21500, 19000,
	8500, 6500, 4500, 2000, 500, 300, 200, 100,
}

// RampByteToMillis converts a ramp-rate register value to milliseconds.
func RampByteToMillis(b byte) int {
	return rampRates[int(b)%len(rampRates)]
}

// RampMillisToByte converts a ramp duration in milliseconds to the
// register value whose table entry is nearest to it.
func RampMillisToByte(ms int) byte {
	best := 1
	for i := 1; i < len(rampRates); i++ {
		if abs(rampRates[i]-ms) < abs(rampRates[best]-ms) {
			best = i
		}
	}
	return byte(best)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// LevelToByte converts a 0-100 percentage to the 0-255 on-level byte.
func LevelToByte(percent int) byte {
	if percent <= 0 {
		return 0
	}
	if percent >= 100 {
		return 0xFF
	}
	return byte(percent * 0xFF / 100)
}

// ByteToLevel converts a 0-255 on-level byte to a 0-100 percentage.
// Rounds to the nearest percent so LevelToByte round-trips.
func ByteToLevel(b byte) int {
	return (int(b)*100 + 0x7F) / 0xFF
}

// Address is a 3-byte Insteon device address.
type Address [3]byte

// ParseAddress decodes a canonical device ID (6 hex digits, separators
// already stripped) into an address.
func ParseAddress(deviceID string) (Address, error) {
	var addr Address
	raw, err := hex.DecodeString(strings.ToLower(deviceID))
	if err != nil || len(raw) != 3 {
		return addr, fmt.Errorf("insteon: invalid device ID %q", deviceID)
	}
	copy(addr[:], raw)
	return addr, nil
}

// String returns the canonical uppercase hex form.
func (a Address) String() string {
	return strings.ToUpper(hex.EncodeToString(a[:]))
}

// checksum computes the two's-complement checksum byte required in D14 of
// extended messages by i2cs devices.
func checksum(cmd1, cmd2 byte, data []byte) byte {
	sum := cmd1 + cmd2
	for _, b := range data {
		sum += b
	}
	return ^sum + 1
}

// buildStdFrame assembles a host->modem standard send frame.
func buildStdFrame(to Address, cmd1, cmd2 byte) []byte {
	return []byte{frameStart, cmdSendMessage, to[0], to[1], to[2], flagsStdDirect, cmd1, cmd2}
}

// buildExtFrame assembles a host->modem extended send frame. data is the
// 14-byte user-data block; D14 is overwritten with the checksum.
func buildExtFrame(to Address, cmd1, cmd2 byte, data [14]byte) []byte {
	data[13] = checksum(cmd1, cmd2, data[:13])
	frame := []byte{frameStart, cmdSendMessage, to[0], to[1], to[2], flagsExtDirect, cmd1, cmd2}
	return append(frame, data[:]...)
}
