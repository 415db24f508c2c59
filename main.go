package main

import "github.com/jmehdipour/payment-aggregator/cmd"

func main() {
	cmd.Execute()
}
