/*
Package testutil provides shared helpers for batchflow tests.

  - TestContextWithTimeout builds a context with Cleanup registered so
    nothing leaks
  - WaitFor polls a condition until a deadline
  - MustJSON / MustParseJSON round JSON through panics, plus unit and
    metric factories

Usage:

	u := testutil.MakeUnit("guild-1", 4)
	ok := testutil.WaitFor(func() bool { return m.Stats().InFlight == 0 }, time.Second)
*/
package testutil
