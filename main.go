package main

import "github.com/marlowe-ops/flowcraft/cmd"

func main() {
	cmd.Execute()
}
