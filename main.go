package main

import (
	_ "go.uber.org/automaxprocs"

	"trafficwatch/cmd"
)

func main() {
	cmd.Execute()
}
