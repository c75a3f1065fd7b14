package main

import (
	"github.com/robotalks/modemmux/pkg/cli/sh"
	"github.com/robotalks/modemmux/pkg/env"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
