package main

import "Melodex/cmd"

func main() {
	cmd.Execute()
}
