package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/updrift-io/updrift/cmd/updrift-agent/app"
)

func main() {
	if err := app.NewAgentCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
