package main

import "github.com/atikulmunna/spindle/internal/cmd"

func main() {
	cmd.Execute()
}
