package main

import "C"

// UratapShutdown removes every hook before the host unloads the library.
//
//export UratapShutdown
func UratapShutdown() {
	shutdown()
}
