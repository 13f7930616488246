package main

//go-build: CGO_ENABLED=0

import (
	"github.com/roverlink/groundstation/pkg/cli/sh"

	_ "github.com/roverlink/groundstation/pkg/cli/cmds/rover"
)

func main() {
	sh.Main()
}
