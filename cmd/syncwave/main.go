package main

import "github.com/BioHazard786/syncwave/internal/cli"

func main() {
	cli.Execute()
}
