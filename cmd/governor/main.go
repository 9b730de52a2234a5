package main

import (
	"os"

	"github.com/psantana5/governor/cmd/governor/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
