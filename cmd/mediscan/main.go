package main

import "github.com/mediscan-tech/mediscan/cmd/mediscan/cmd"

func main() {
	cmd.Execute()
}
