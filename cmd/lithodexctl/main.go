package main

import "github.com/lithodex/lithodex/cmd/lithodexctl/cmd"

func main() {
	cmd.Execute()
}
