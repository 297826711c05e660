package main

import (
	"os"

	"banknifty-trader/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
