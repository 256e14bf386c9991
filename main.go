package main

import "healthnet/cmd"

func main() {
	cmd.Execute()
}
