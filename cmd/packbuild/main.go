package main

import (
	"os"

	"github.com/xekr/packsmith/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
