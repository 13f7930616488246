// Package radio drives the RFM69HCW transceiver on the Adafruit radio
// bonnet over SPI.
package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// timeoutError satisfies the Timeout interface os.IsTimeout checks, so
// callers need not depend on this package to recognize it.
type timeoutError struct{}

func (timeoutError) Error() string { return "receive timeout" }
func (timeoutError) Timeout() bool { return true }

var (
	// ErrTimeout indicates no packet arrived within the receive window.
	ErrTimeout error = timeoutError{}
	// ErrBadVersion indicates the chip did not identify as an RFM69HCW.
	ErrBadVersion = errors.New("unexpected radio version")
)

// Device is an RFM69HCW attached over SPI.
type Device struct {
	cfg   Config
	conn  spi.Conn
	cs    gpio.PinIO
	reset gpio.PinIO
	port  spi.PortCloser

	mu       sync.Mutex
	lastRSSI int16
}

// Open initializes the host, opens the configured SPI port and GPIO
// pins, and brings the radio up.
func Open(cfg Config) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	port, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}
	// CS is driven manually; the bonnet wires it to a plain GPIO.
	conn, err := port.Connect(2*physic.MegaHertz, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("connect %s: %w", cfg.Port, err)
	}
	cs := gpioreg.ByName(cfg.CSPin)
	if cs == nil {
		port.Close()
		return nil, fmt.Errorf("no pin %s", cfg.CSPin)
	}
	reset := gpioreg.ByName(cfg.ResetPin)
	if reset == nil {
		port.Close()
		return nil, fmt.Errorf("no pin %s", cfg.ResetPin)
	}
	d, err := New(conn, cs, reset, cfg)
	if err != nil {
		port.Close()
		return nil, err
	}
	d.port = port
	return d, nil
}

// New brings up a radio on an already-connected SPI bus. Used by Open
// and by tests injecting fake buses.
func New(conn spi.Conn, cs, reset gpio.PinIO, cfg Config) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ListenDelay <= 0 {
		cfg.ListenDelay = 100 * time.Millisecond
	}
	d := &Device{cfg: cfg, conn: conn, cs: cs, reset: reset}
	if err := d.cs.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("cs pin: %w", err)
	}
	if err := d.hardReset(); err != nil {
		return nil, err
	}
	v, err := d.readReg(regVersion)
	if err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if v != version {
		return nil, fmt.Errorf("%w: 0x%02x", ErrBadVersion, v)
	}
	glog.V(1).Infof("RFM69 version 0x%02x", v)
	for _, rv := range bringUp(cfg) {
		if err := d.writeReg(rv.reg, rv.val); err != nil {
			return nil, fmt.Errorf("write reg 0x%02x: %w", rv.reg, err)
		}
	}
	if err := d.writeReg(regOpMode, modeRx); err != nil {
		return nil, err
	}
	return d, nil
}

// hardReset pulses the reset pin the way the bonnet expects.
func (d *Device) hardReset() error {
	if err := d.reset.Out(gpio.High); err != nil {
		return fmt.Errorf("reset pin: %w", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := d.reset.Out(gpio.Low); err != nil {
		return fmt.Errorf("reset pin: %w", err)
	}
	time.Sleep(5 * time.Millisecond)
	return nil
}

// Frequency reads back the configured carrier frequency in Hz.
func (d *Device) Frequency() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	msb, err := d.readReg(regFrfMsb)
	if err != nil {
		return 0, err
	}
	mid, err := d.readReg(regFrfMid)
	if err != nil {
		return 0, err
	}
	lsb, err := d.readReg(regFrfLsb)
	if err != nil {
		return 0, err
	}
	return frfHz(msb, mid, lsb), nil
}

// MaxPayload returns the largest frame Send accepts.
func (d *Device) MaxPayload() int {
	return d.cfg.MaxPayload()
}

// Send transmits one frame and returns the radio to receive mode.
func (d *Device) Send(frame []byte) error {
	if len(frame) > d.cfg.MaxPayload() {
		return fmt.Errorf("frame of %d bytes exceeds radio payload limit %d",
			len(frame), d.cfg.MaxPayload())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writeReg(regOpMode, modeStandby); err != nil {
		return err
	}
	if err := d.waitIrq1(irq1ModeReady); err != nil {
		return err
	}
	if err := d.writeFifo(frame); err != nil {
		return err
	}
	if err := d.writeReg(regOpMode, modeTx); err != nil {
		return err
	}
	err := d.waitIrq2(irq2PacketSent)
	// Back to listening regardless of the send outcome.
	if rxErr := d.writeReg(regOpMode, modeRx); err == nil {
		err = rxErr
	}
	return err
}

// Receive waits for the next frame, polling the receive buffer until
// the timeout or ctx expires. It returns the raw frame including the
// length byte.
func (d *Device) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		frame, ok, err := d.tryReceive()
		if err != nil {
			return nil, err
		}
		if ok {
			return frame, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.cfg.ListenDelay):
		}
	}
}

// LastRSSI returns the signal strength of the last received frame in dBm.
func (d *Device) LastRSSI() int16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastRSSI
}

// Close puts the radio to sleep and releases the SPI port.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.writeReg(regOpMode, 0x00)
	if d.port != nil {
		if closeErr := d.port.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

func (d *Device) tryReceive() ([]byte, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	flags, err := d.readReg(regIrqFlags2)
	if err != nil {
		return nil, false, err
	}
	if flags&irq2PayloadReady == 0 {
		return nil, false, nil
	}
	if err := d.writeReg(regOpMode, modeStandby); err != nil {
		return nil, false, err
	}
	frame, err := d.readFifo()
	if err != nil {
		return nil, false, err
	}
	if rssi, err := d.readReg(regRssiValue); err == nil {
		d.lastRSSI = -int16(rssi) / 2
	}
	if err := d.writeReg(regOpMode, modeRx); err != nil {
		return nil, false, err
	}
	return frame, true, nil
}

func (d *Device) waitIrq1(mask byte) error {
	return d.waitFlag(regIrqFlags1, mask)
}

func (d *Device) waitIrq2(mask byte) error {
	return d.waitFlag(regIrqFlags2, mask)
}

func (d *Device) waitFlag(reg, mask byte) error {
	deadline := time.Now().Add(time.Second)
	for {
		v, err := d.readReg(reg)
		if err != nil {
			return err
		}
		if v&mask != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("flag 0x%02x of reg 0x%02x not set in time", mask, reg)
		}
		time.Sleep(time.Millisecond)
	}
}

func (d *Device) readReg(reg byte) (byte, error) {
	r := make([]byte, 2)
	if err := d.txrx([]byte{reg & 0x7f, 0}, r); err != nil {
		return 0, err
	}
	return r[1], nil
}

func (d *Device) writeReg(reg, val byte) error {
	return d.txrx([]byte{reg | 0x80, val}, make([]byte, 2))
}

// readFifo drains the receive FIFO. The whole buffer is read in one
// burst the length byte included; the frame codec trims by length.
func (d *Device) readFifo() ([]byte, error) {
	w := make([]byte, d.cfg.MaxPayload()+1)
	w[0] = regFifo
	r := make([]byte, len(w))
	if err := d.txrx(w, r); err != nil {
		return nil, err
	}
	return r[1:], nil
}

func (d *Device) writeFifo(frame []byte) error {
	w := make([]byte, len(frame)+1)
	w[0] = regFifo | 0x80
	copy(w[1:], frame)
	return d.txrx(w, make([]byte, len(w)))
}

func (d *Device) txrx(w, r []byte) error {
	if err := d.cs.Out(gpio.Low); err != nil {
		return err
	}
	err := d.conn.Tx(w, r)
	if csErr := d.cs.Out(gpio.High); err == nil {
		err = csErr
	}
	return err
}
