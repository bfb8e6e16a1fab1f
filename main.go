package main

import "localtube/cmd"

func main() {
	cmd.Run()
}
