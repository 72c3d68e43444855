package main

import (
	"github.com/geocat-ops/geocatctl/cmd"
)

func main() {
	cmd.Execute()
}
