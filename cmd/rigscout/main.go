package main

import "rigscout/internal/cli"

func main() {
	cli.Execute()
}
