package main

import "github.com/jmcleod/ovpnadmin/cmd/ovpnadmin/cmd"

func main() {
	cmd.Execute()
}
