package main

import "github.com/sw33tLie/beaconscope/cmd"

func main() {
	cmd.Execute()
}
