package main

import "github.com/icco/lookahead/cmd"

func main() {
	cmd.Execute()
}
