package main

import "github.com/vibast-solutions/ms-go-fulfillment/cmd"

func main() {
	cmd.Execute()
}
