package display

import (
	"fmt"
	"image"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
)

// OLED is the SSD1306 128x32 on the radio bonnet, attached over I2C.
type OLED struct {
	dev *ssd1306.Dev
	bus i2c.BusCloser
}

// OpenOLED opens the first I2C bus and initializes the display.
func OpenOLED() (*OLED, error) {
	bus, err := i2creg.Open("")
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	opts := ssd1306.DefaultOpts
	opts.W, opts.H = Width, Height
	dev, err := ssd1306.NewI2C(bus, &opts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("init ssd1306: %w", err)
	}
	return &OLED{dev: dev, bus: bus}, nil
}

// WriteLines implements Panel.
func (o *OLED) WriteLines(lines ...string) error {
	img := render(lines)
	return o.dev.Draw(o.dev.Bounds(), img, image.Point{})
}

// Close implements Panel.
func (o *OLED) Close() error {
	err := o.dev.Halt()
	if busErr := o.bus.Close(); err == nil {
		err = busErr
	}
	return err
}
