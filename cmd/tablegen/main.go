package main

import app "tablegen/internal/app"

func main() {
	app.Run()
}
