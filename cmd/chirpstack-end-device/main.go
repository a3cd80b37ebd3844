package main

import "github.com/brocaar/chirpstack-end-device/cmd/chirpstack-end-device/cmd"

var version string // set by the compiler

func main() {
	cmd.Execute(version)
}
