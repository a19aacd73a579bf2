package main

import "github.com/maxvaer/hhprobe/cmd"

func main() {
	cmd.Execute()
}
