package main

import "github.com/kozaktomas/deepsecurity/cmd"

func main() {
	cmd.Execute()
}
