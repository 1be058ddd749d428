package main

import "floodwatch/internal/cli"

func main() {
	cli.Execute()
}
