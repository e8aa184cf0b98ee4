package main

import "github.com/jmelchers/arvon/cmd"

func main() {
	cmd.Execute()
}
