// Command server runs the presence chat server.
package main

func main() {
	Execute()
}
