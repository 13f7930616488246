package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"log"
	"os"

	"github.com/roverlink/groundstation/pkg/bus"
)

var (
	mqttURL = "mqtt://localhost:1883/rover/"
)

func init() {
	if val := os.Getenv("GROUND_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := bus.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	token := q.Connect()
	if token.Wait(); token.Error() != nil {
		log.Fatalln(token.Error())
	}

	q.Sub("#", bus.Handler(func(topic string, payload []byte) {
		if len(payload) == 0 {
			log.Printf("%s: (cleared)", topic)
			return
		}
		log.Printf("%s: %s", topic, string(payload))
	}))
	<-(chan struct{})(nil)
}
