package main

import (
	"os"

	"github.com/penwyp/go-usbll2sr/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
