package main

import (
	"github.com/srcscan/srcscan/pkg/cmd"
)

func main() {
	cmd.Execute()
}
