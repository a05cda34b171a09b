// Package harness runs YAML-defined conformance scenarios against a real
// engine. A scenario declares types, unions, and rules (bound to a built-in
// body library), asserts facts, issues one request, and checks the outcome.
//
// Every run is deterministic: one worker, a fixed session token, and logical
// clock seq numbers. Successful runs can be compared against golden trace
// files with goldie:
//
//	go test ./internal/harness -update
package harness
