package main

import "github.com/Lllllllleong/slideflow/internal/cli"

func main() {
	cli.Execute()
}
