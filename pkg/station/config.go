package station

import (
	"flag"
	"fmt"
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"

	"github.com/roverlink/groundstation/pkg/link"
	"github.com/roverlink/groundstation/pkg/radio"
)

// Config provides everything to assemble a ground station.
type Config struct {
	// ID identifies this station on the bus. Defaults to the machine ID.
	ID string

	// MQTTURL specifies the broker, e.g. mqtt://host:port/topic-prefix.
	MQTTURL string

	// FeedAddr is the websocket feed listen address; empty disables
	// the feed.
	FeedAddr string

	// UseOLED drives the bonnet display when set.
	UseOLED bool

	Radio radio.Config
	Link  link.Config
}

var defaultConfig = Config{
	MQTTURL: "mqtt://localhost:1883/rover/",
	Radio:   radio.DefaultConfig(),
	Link:    link.DefaultConfig(),
}

var (
	frequencyHz uint
	aesKey      string
)

func init() {
	if val := os.Getenv("GROUND_STATION_ID"); val != "" {
		defaultConfig.ID = val
	}
	if val := os.Getenv("GROUND_MQTT_URL"); val != "" {
		defaultConfig.MQTTURL = val
	}
	if val := os.Getenv("GROUND_AES_KEY"); val != "" {
		aesKey = val
	}
	frequencyHz = uint(defaultConfig.Radio.FrequencyHz)
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.ID, "id", defaultConfig.ID, "Station ID.")
	flag.StringVar(&defaultConfig.MQTTURL, "mqtt", defaultConfig.MQTTURL, "MQTT broker URL.")
	flag.StringVar(&defaultConfig.FeedAddr, "feed", defaultConfig.FeedAddr, "Websocket feed listen address, empty disables.")
	flag.BoolVar(&defaultConfig.UseOLED, "oled", defaultConfig.UseOLED, "Drive the bonnet OLED.")
	flag.UintVar(&frequencyHz, "frequency", frequencyHz, "Carrier frequency in Hz.")
	flag.StringVar(&aesKey, "aes-key", aesKey, "16-character radio AES key, empty disables encryption.")
	flag.StringVar(&defaultConfig.Radio.Port, "spi", defaultConfig.Radio.Port, "SPI port of the radio.")
}

// NewConfig creates a Config from defaults, env and flags.
func NewConfig() (*Config, error) {
	conf := defaultConfig
	conf.Radio.FrequencyHz = uint32(frequencyHz)
	if aesKey != "" {
		conf.Radio.AESKey = []byte(aesKey)
	}
	if err := conf.Radio.Validate(); err != nil {
		return nil, err
	}
	if conf.ID == "" {
		id, err := machineid.ID()
		if err != nil {
			return nil, fmt.Errorf("station ID not set and machine ID unavailable: %w", err)
		}
		conf.ID = id
		glog.V(1).Infof("station ID from machine ID: %s", id)
	}
	return &conf, nil
}
