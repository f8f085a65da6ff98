// Package runner drives one full suite run: for every case in manifest order it
// provisions a disposable session, executes the case under its effective
// timeout, extracts a verdict from the captured output, and hands the ordered
// results to the report aggregator. Sessions are always torn down, whatever the
// outcome. A fatal provisioning failure aborts the remaining run; every other
// outcome is per-case and execution continues.
package runner
