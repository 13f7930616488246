package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"log"

	fx "github.com/roverlink/groundstation/pkg/framework"
	"github.com/roverlink/groundstation/pkg/station"
)

func init() {
	station.SetupFlags()
}

func main() {
	flag.Parse()

	conf, err := station.NewConfig()
	if err != nil {
		log.Fatalln(err)
	}
	s, err := station.New(conf)
	if err != nil {
		log.Fatalln(err)
	}

	runner := fx.NewRunner().HandleSignals()
	runner.Go(fx.NamedRun("station", s))
	if err := runner.Wait(); err != nil {
		log.Fatalln(err)
	}
}
