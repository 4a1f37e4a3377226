package main

import (
	"github.com/wesleyorama2/stampede/internal/cli"
)

func main() {
	cli.Execute()
}
