package main

import "github.com/urun4m0r1/AIGF/cmd"

func main() {
	cmd.Execute()
}
