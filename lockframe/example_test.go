package lockframe_test

import (
	"fmt"

	"github.com/kolkov/lockframe/lockframe"
)

// Example demonstrates detecting an unsynchronized write-write race
// between two threads.
func Example() {
	a := lockframe.NewPWR(lockframe.DefaultOptions())

	var counter lockframe.ResourceName = 1

	a.Write(1, 1, counter)
	a.Write(2, 2, counter)

	races, err := a.Findings()
	if err != nil {
		panic(err)
	}
	fmt.Println(len(races), "race(s) found")

	// Output:
	// 1 race(s) found
}

// Example_mutexProtected shows the same access pattern, but with both
// writes under a shared lock — no race is reported.
func Example_mutexProtected() {
	a := lockframe.NewPWR(lockframe.DefaultOptions())

	var counter lockframe.ResourceName = 1
	var mu lockframe.ResourceName = 100

	a.Acquire(1, 1, mu)
	a.Write(1, 2, counter)
	a.Release(1, 3, mu)

	a.Acquire(2, 4, mu)
	a.Write(2, 5, counter)
	a.Release(2, 6, mu)

	races, err := a.Findings()
	if err != nil {
		panic(err)
	}
	fmt.Println(len(races), "race(s) found")

	// Output:
	// 0 race(s) found
}

// Example_deadlock demonstrates UNDEAD reporting a lock-order inversion
// between two threads that never actually deadlocked in this trace.
func Example_deadlock() {
	a := lockframe.NewUNDEAD()

	var l1, l2 lockframe.ResourceName = 1, 2

	a.Acquire(1, 1, l1)
	a.Acquire(1, 2, l2)
	a.Release(1, 3, l2)
	a.Release(1, 4, l1)

	a.Acquire(2, 5, l2)
	a.Acquire(2, 6, l1)
	a.Release(2, 7, l1)
	a.Release(2, 8, l2)

	findings, err := a.Findings()
	if err != nil {
		panic(err)
	}
	fmt.Println(len(findings), "potential deadlock(s) found")

	// Output:
	// 1 potential deadlock(s) found
}
