package main

import "github.com/ValentinKolb/dNIO/cmd"

func main() {
	cmd.Execute()
}
