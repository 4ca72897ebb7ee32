package utils

import "fmt"

// Assert panic when cond is false, it guards invariants which correct
// callers never break.
func Assert(cond bool, format string, a ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, a...))
	}
}
