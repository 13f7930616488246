package radio

// RFM69HCW register addresses.
const (
	regFifo        = 0x00
	regOpMode      = 0x01
	regDataModul   = 0x02
	regBitrateMsb  = 0x03
	regBitrateLsb  = 0x04
	regFdevMsb     = 0x05
	regFdevLsb     = 0x06
	regFrfMsb      = 0x07
	regFrfMid      = 0x08
	regFrfLsb      = 0x09
	regVersion     = 0x10
	regPaLevel     = 0x11
	regRxBw        = 0x19
	regAfcBw       = 0x1a
	regRssiValue   = 0x24
	regIrqFlags1   = 0x27
	regIrqFlags2   = 0x28
	regPreambleMsb = 0x2c
	regPreambleLsb = 0x2d
	regSyncConfig  = 0x2e
	regSyncValue1  = 0x2f
	regPktConfig1  = 0x37
	regPayloadLen  = 0x38
	regFifoThresh  = 0x3c
	regPktConfig2  = 0x3d
	regAesKey1     = 0x3e
)

// Operating modes (RegOpMode). The receiver value matches the rover's
// bonnet reference code rather than the library tables floating around.
const (
	modeStandby byte = 0x04
	modeTx      byte = 0x0c
	modeRx      byte = 0x08
)

// RegIrqFlags1 bits.
const (
	irq1ModeReady = 0x80
)

// RegIrqFlags2 bits.
const (
	irq2PacketSent   = 0x08
	irq2PayloadReady = 0x04
)

// RegPacketConfig1: variable length, whitening, CRC on, no address
// filtering.
const pktConfig1Value = 0xd0

// RegPacketConfig2 bits.
const (
	pktConfig2AutoRxRestart = 0x02
	pktConfig2AesOn         = 0x01
)

// RegRxBw / RegAfcBw: DCC cutoff 0.125%, 25 kHz (FSK).
const rxBwValue = 0xe4

// RegFifoThresh: transmit as soon as the FIFO is non-empty.
const fifoThreshValue = 0x8f

// version is the expected RegVersion content for an RFM69HCW.
const version = 0x24

// fxOsc is the crystal frequency; frequency registers count in
// fxOsc / 2^19 steps.
const fxOsc = 32_000_000

// frfRegs converts a carrier frequency in Hz to the three Frf register
// values.
func frfRegs(hz uint32) (msb, mid, lsb byte) {
	steps := uint32(uint64(hz) << 19 / fxOsc)
	return byte(steps >> 16), byte(steps >> 8), byte(steps)
}

// frfHz converts Frf register values back to a frequency in Hz.
func frfHz(msb, mid, lsb byte) uint32 {
	steps := uint64(msb)<<16 | uint64(mid)<<8 | uint64(lsb)
	return uint32(steps * fxOsc >> 19)
}

// bitrateRegs converts a bit rate in bps to register values.
func bitrateRegs(bps uint32) (msb, lsb byte) {
	v := (fxOsc + bps/2) / bps
	return byte(v >> 8), byte(v)
}

// fdevRegs converts a frequency deviation in Hz to register values,
// rounding to the nearest step. 19200 Hz comes out as 0x01,0x3b which
// is the exact value the rover transmits with.
func fdevRegs(hz uint32) (msb, lsb byte) {
	v := uint32((uint64(hz)<<19 + fxOsc/2) / fxOsc)
	return byte(v >> 8), byte(v)
}
