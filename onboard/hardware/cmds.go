package hardware

// Command words shared by the servo protocols. The node address rides in
// the frame identifier, so the full 8 byte payload is available for data.
const (
	CMD_ENABLE      = 0x0100
	CMD_DISABLE     = 0x0110
	CMD_CLEAR_FAULT = 0x0120
	CMD_SET_TARGET  = 0x0130
	CMD_FEEDBACK    = 0x0140
	CMD_VERSION     = 0x03E0
)

// Fault bits reported in the last byte of a feedback payload.
const (
	FAULT_OVERTEMP    = 1 << 0
	FAULT_OVERCURRENT = 1 << 1
	FAULT_ENCODER     = 1 << 2
	FAULT_UNDERVOLT   = 1 << 3
	FAULT_STALL       = 1 << 4
)

// scale16 clamps v into what an int16 at the given scale can carry.
func scale16(v, scale float64) int16 {
	s := v * scale
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return int16(s)
}

func unscale16(raw int16, scale float64) float64 {
	return float64(raw) / scale
}
