package main

import "vesta-pipeline/cmd"

func main() {
	cmd.Execute()
}
