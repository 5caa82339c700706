package main

import "github.com/MeKo-Tech/rakescan/cmd/rakescan/cmd"

func main() {
	cmd.Execute()
}
