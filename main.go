package main

import "contactrecon/cmd"

func main() {
	cmd.Execute()
}
