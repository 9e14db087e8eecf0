package main

import "github.com/adhole/ftlbridge/internal/bridge"

func main() {
	bridge.Main()
}
