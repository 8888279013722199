package main

import "github.com/lepinkainen/reelbase/cmd"

var execute = cmd.Execute

func main() {
	execute()
}
