package main

import "github.com/coalton-labs/ledgerd/internal/cli"

func main() {
	cli.Execute()
}
