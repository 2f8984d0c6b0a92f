package main

import (
	"os"

	"github.com/jsenecal/netbox-notices/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
