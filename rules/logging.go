//go:build ruleguard

// Package gorules contains custom linting rules for golangci-lint via ruleguard.
// They keep new code on the project's logging, HTTP and metrics helpers.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// StdlibLog flags the standard log package outside main. Terminal sessions
// own stderr, so everything must go through the central logger, which can
// be redirected to the log file.
//
//	log.Printf("upload failed: %v", err)
//
// becomes
//
//	logger.Global().Module("backend").Warn("upload failed", logger.Error(err))
func StdlibLog(m dsl.Matcher) {
	m.Import("log")

	m.Match(
		`log.Print($*_)`, `log.Printf($*_)`, `log.Println($*_)`,
		`log.Fatal($*_)`, `log.Fatalf($*_)`, `log.Fatalln($*_)`,
	).
		Where(!m.File().PkgPath.Matches(`/cmd|^main$`) && !m.File().Name.Matches(`_test\.go$`)).
		Report("use the module logger (logger.Global().Module(...)) instead of the log package")
}

// PrintInInternal flags fmt printing to stdout from internal packages, which
// corrupts the terminal UI. Commands write to cmd.OutOrStdout() instead.
func PrintInInternal(m dsl.Matcher) {
	m.Match(`fmt.Println($*_)`, `fmt.Printf($*_)`, `fmt.Print($*_)`).
		Where(m.File().PkgPath.Matches(`/internal/`) && !m.File().Name.Matches(`_test\.go$`)).
		Report("internal packages must not print to stdout; log or return the value")
}
