package main

import "github.com/lanvstn/kubetransport/pkg/kubetransport/cmd"

func main() {
	cmd.Execute()
}
