package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/msageha/dbtpilot/internal/cli"
)

var version = "0.1.0-dev"

func main() {
	os.Exit(cli.Execute(version))
}
