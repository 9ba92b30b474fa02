package main

import "github.com/unmanic/unmanic/cmd/unmanic/cmd"

func main() {
	cmd.Execute()
}
