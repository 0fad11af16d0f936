package canbus

import (
	"encoding/binary"
	"errors"
)

const (
	// wire layout of a raw socketcan frame
	FRAME_SIZE = 16
	MAX_DATA   = 8

	// the command word lives in bits 8-23 of the extended identifier,
	// the node address in bits 0-7
	ADDR_MASK = 0x000000FF
	CMD_SHIFT = 8
	CMD_MASK  = 0xFFFF

	EFF_FLAG = 0x80000000
	EFF_MASK = 0x1FFFFFFF
)

// errors
var (
	ERR_DATA_TOO_LONG = errors.New("data length exceeds 8 bytes")
	ERR_FRAME_SHORT   = errors.New("raw frame shorter than 16 bytes")
)

type Frame struct {
	ID   uint32 // node address this is being issued for
	Cmd  uint16 // command being issued in this frame
	Data []byte // raw payload up to eight bytes. DLC is taken from len(Data).
}

func (f *Frame) toByteArray() (raw []byte, err error) {
	if len(f.Data) > MAX_DATA {
		return nil, ERR_DATA_TOO_LONG
	}

	raw = make([]byte, FRAME_SIZE)

	oid := (f.ID & ADDR_MASK) | uint32(f.Cmd)<<CMD_SHIFT | EFF_FLAG
	binary.LittleEndian.PutUint32(raw[0:4], oid)

	raw[4] = byte(len(f.Data))
	copy(raw[8:], f.Data)

	return
}

func frameFromByteArray(raw []byte) (f Frame, err error) {
	if len(raw) < FRAME_SIZE {
		return f, ERR_FRAME_SHORT
	}

	oid := binary.LittleEndian.Uint32(raw[0:4]) & EFF_MASK

	f.ID = oid & ADDR_MASK
	f.Cmd = uint16(oid >> CMD_SHIFT & CMD_MASK)

	dlc := int(raw[4])
	if dlc > MAX_DATA {
		dlc = MAX_DATA
	}
	f.Data = make([]byte, dlc)
	copy(f.Data, raw[8:8+dlc])

	return
}
