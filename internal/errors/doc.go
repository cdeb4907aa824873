// Package errors provides structured, actionable build errors for isosplit.
//
// Every error carries a code from the registry, a category, an optional source
// location with surrounding lines, and an optional hint. Build failures print
// through Format so the developer sees the exact marker call that broke the
// split.
//
// # Error Categories
//
//   - compile: the source could not be split (parse errors, duplicate ids,
//     unsupported marker positions, bundler failures)
//   - runtime: the served process could not be started or stopped
//   - config: isosplit.json is invalid
//   - cli: command-line and filesystem failures
//
// # Usage
//
//	err := errors.New("E101").
//	    WithLocation("src/index.ts", 14, 7).
//	    WithDetail(`route id "hello" is declared twice`)
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR E101: Duplicate route id
//	//
//	//   src/index.ts:14:7
//	//
//	//     12 │ )
//	//     13 │
//	//   → 14 │ const again = $api("hello", async () => 1)
//	//        │       ^
//	//     15 │
//	//     16 │ async function main() {
package errors
