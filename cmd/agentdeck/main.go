package main

import (
	"os"

	"github.com/waabox/agentdeck/internal/cli"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
