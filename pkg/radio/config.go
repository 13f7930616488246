package radio

import (
	"fmt"
	"time"
)

// Config describes the radio setup. The defaults match the Adafruit
// RFM69HCW bonnet talking to RadioHead firmware at 868 MHz.
type Config struct {
	// Port is the SPI port name, e.g. "SPI0.0".
	Port string
	// CSPin and ResetPin are GPIO pin names on the bonnet.
	CSPin    string
	ResetPin string

	// FrequencyHz is the carrier frequency.
	FrequencyHz uint32
	// BitRateBps is the FSK bit rate.
	BitRateBps uint32
	// FdevHz is the frequency deviation.
	FdevHz uint32
	// PALevel is the raw RegPaLevel value.
	PALevel byte
	// PreambleLen is the preamble length in octets.
	PreambleLen uint16
	// SyncWord is the sync word, at most 8 octets.
	SyncWord []byte

	// AESKey enables hardware packet encryption when set. Must be
	// exactly 16 bytes.
	AESKey []byte

	// ListenDelay is the pause between receive buffer polls.
	ListenDelay time.Duration
}

// DefaultConfig returns the bonnet defaults.
func DefaultConfig() Config {
	return Config{
		Port:        "SPI0.0",
		CSPin:       "GPIO7",
		ResetPin:    "GPIO25",
		FrequencyHz: 868_000_000,
		BitRateBps:  9600,
		FdevHz:      19200,
		PALevel:     0x7c,
		PreambleLen: 4,
		SyncWord:    []byte{0x2d, 0xd4},
		ListenDelay: 100 * time.Millisecond,
	}
}

// Validate checks the config for values the hardware cannot take.
func (c *Config) Validate() error {
	if c.FrequencyHz == 0 || c.BitRateBps == 0 {
		return fmt.Errorf("frequency and bit rate are required")
	}
	if len(c.SyncWord) == 0 || len(c.SyncWord) > 8 {
		return fmt.Errorf("sync word must be 1 to 8 octets, got %d", len(c.SyncWord))
	}
	if c.AESKey != nil && len(c.AESKey) != 16 {
		return fmt.Errorf("AES key must be 16 bytes, got %d", len(c.AESKey))
	}
	return nil
}

// MaxPayload is the largest frame the radio accepts under this config.
func (c *Config) MaxPayload() int {
	// The AES pipeline caps packets at 64 octets.
	return 64
}

type regVal struct {
	reg byte
	val byte
}

// bringUp produces the ordered register writes configuring the radio,
// mirroring what the rover end expects: FSK packet mode, RadioHead
// framing defaults, whitening and CRC.
func bringUp(c Config) []regVal {
	frfMsb, frfMid, frfLsb := frfRegs(c.FrequencyHz)
	brMsb, brLsb := bitrateRegs(c.BitRateBps)
	fdMsb, fdLsb := fdevRegs(c.FdevHz)

	seq := []regVal{
		{regOpMode, modeStandby},
		{regDataModul, 0x00}, // packet mode, FSK, no shaping
		{regBitrateMsb, brMsb},
		{regBitrateLsb, brLsb},
		{regFdevMsb, fdMsb},
		{regFdevLsb, fdLsb},
		{regFrfMsb, frfMsb},
		{regFrfMid, frfMid},
		{regFrfLsb, frfLsb},
		{regPreambleMsb, byte(c.PreambleLen >> 8)},
		{regPreambleLsb, byte(c.PreambleLen)},
		{regSyncConfig, 0x80 | byte(len(c.SyncWord)-1)<<3},
	}
	for i, b := range c.SyncWord {
		seq = append(seq, regVal{regSyncValue1 + byte(i), b})
	}
	pktConfig2 := byte(pktConfig2AutoRxRestart)
	if c.AESKey != nil {
		pktConfig2 |= pktConfig2AesOn
	}
	seq = append(seq,
		regVal{regPktConfig1, pktConfig1Value},
		regVal{regPayloadLen, 64},
		regVal{regFifoThresh, fifoThreshValue},
		regVal{regPktConfig2, pktConfig2},
		regVal{regRxBw, rxBwValue},
		regVal{regAfcBw, rxBwValue},
		regVal{regPaLevel, c.PALevel},
	)
	for i, b := range c.AESKey {
		seq = append(seq, regVal{regAesKey1 + byte(i), b})
	}
	return seq
}
