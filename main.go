package main

import (
	"os"

	"github.com/pmkol/mosproxy/coremain"
)

func main() {
	if err := coremain.Run(); err != nil {
		os.Exit(1)
	}
}
