package main

import "github.com/blockroom/roomd/cmd"

func main() {
	cmd.Execute()
}
