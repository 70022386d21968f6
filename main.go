package main

import "github.com/wagate/wagate/cmd"

func main() {
	cmd.Execute()
}
