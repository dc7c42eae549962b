package main

import "github.com/tanq16/volley/cmd"

func main() {
	cmd.Execute()
}
