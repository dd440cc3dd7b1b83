package main

import "procond/cmd/viewlogs/app"

func main() {
	app.Run()
}
