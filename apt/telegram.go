package apt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/snksoft/crc"
)

const (
	// telStart is the start of telegram byte
	telStart = 0x0D

	// telEnd is the end of telegram byte
	telEnd = 0x0A

	// escapeMark introduces an escaped byte in the body
	escapeMark = 0x5E

	// escapeShift is added to an escaped byte.  Escapable values max out
	// at 0x5E so the shift cannot overflow.
	escapeShift = 0x40
)

var (
	// dataOrder is the byte order of multi-byte payload fields
	dataOrder = binary.LittleEndian

	// escapable holds the values that may not appear raw inside a frame
	escapable = []byte{telEnd, telStart, escapeMark}

	crcTable = crc.NewTable(crc.XMODEM)
)

// Telegram is one unit of exchange with the hub.  Requests carry a zero
// Status; replies echo the Verb and report the outcome in Status.  Serial
// is zero for hub-level operations that do not address a device.
type Telegram struct {
	Verb   byte
	Status byte
	Serial uint32
	Data   []byte
}

// crcHelper computes the two byte CRC value in one line
func crcHelper(buf []byte) []byte {
	crcUint := crcTable.InitCrc()
	crcUint = crcTable.UpdateCrc(crcUint, buf)
	crcBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(crcBytes, crcTable.CRC16(crcUint))
	return crcBytes
}

func sanitize(data []byte) []byte {
	out := []byte{}
	for _, b := range data {
		if bytes.Contains(escapable, []byte{b}) {
			out = append(out, escapeMark, b+escapeShift)
		} else {
			out = append(out, b)
		}
	}
	return out
}

func reverseSanitize(data []byte) []byte {
	out := []byte{}
	subNext := false
	for _, b := range data {
		if b == escapeMark && !subNext {
			subNext = true
			continue
		}
		if subNext {
			b = b - escapeShift
			subNext = false
		}
		out = append(out, b)
	}
	return out
}

// frames are encoded as [SOT][BODY][EOT].  The body is
// [VERB] [STATUS] [SERIAL, 4 bytes LE] [0..n data bytes] [CRC, 2 bytes BE]
// with the CRC computed over everything before it.  Escapable bytes in the
// body are replaced after the CRC is computed, so a raw SOT or EOT on the
// wire is always a frame boundary.

// MakeTelegram encodes t into a framed byte stream ready for the wire
func MakeTelegram(t Telegram) []byte {
	body := make([]byte, 6, 6+len(t.Data))
	body[0] = t.Verb
	body[1] = t.Status
	dataOrder.PutUint32(body[2:6], t.Serial)
	body = append(body, t.Data...)
	body = append(body, crcHelper(body)...)
	out := append([]byte{telStart}, sanitize(body)...)
	return append(out, telEnd)
}

// DecodeTelegram renders a raw framed byte stream back into a Telegram
func DecodeTelegram(frame []byte) (Telegram, error) {
	iStart := bytes.IndexByte(frame, telStart)
	if iStart < 0 {
		return Telegram{}, fmt.Errorf("telegram start byte %#02x not found", telStart)
	}
	iEnd := bytes.IndexByte(frame, telEnd)
	if iEnd < 0 {
		return Telegram{}, fmt.Errorf("telegram end byte %#02x not found", telEnd)
	}
	body := reverseSanitize(frame[iStart+1 : iEnd])
	if len(body) < 8 {
		return Telegram{}, fmt.Errorf("telegram body has %d bytes, need at least 8", len(body))
	}

	// pop the CRC and make sure the body survived the wire
	fidx := len(body) - 2
	crcRecv := body[fidx:]
	body = body[:fidx]
	if !bytes.Equal(crcRecv, crcHelper(body)) {
		return Telegram{}, errors.New("CRC mismatch, data lost in transmission")
	}

	return Telegram{
		Verb:   body[0],
		Status: body[1],
		Serial: dataOrder.Uint32(body[2:6]),
		Data:   body[6:],
	}, nil
}
