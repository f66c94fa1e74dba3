// Command sigcas runs and administers a signed content-addressable store.
package main

func main() {
	Execute()
}
