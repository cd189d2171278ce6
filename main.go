package main

import "github.com/rexl2018/aiapiproxy/cmd"

func main() {
	cmd.Execute()
}
