package main

import "github.com/kozaktomas/facescan/cmd"

func main() {
	cmd.Execute()
}
