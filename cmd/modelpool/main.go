// Command modelpool launches a pool of model-serving worker processes that
// share one prepared model artifact.
package main

func main() {
	Execute()
}
