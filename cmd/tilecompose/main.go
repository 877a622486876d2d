package main

import "github.com/MeKo-Tech/tilecompose/internal/cmd"

func main() {
	cmd.Execute()
}
