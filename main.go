package main

import "github.com/migrato/migrato/cmd"

func main() {
	cmd.Execute()
}
