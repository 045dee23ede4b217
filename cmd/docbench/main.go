package main

import "github.com/kailas-cloud/docbench/internal/cli"

func main() {
	cli.Execute()
}
