// Package logx is the structured logger every lnsched component takes.
//
// A Logger is a small value over zerolog. Loggers handed out by a Service
// follow its sinks and level across Apply calls, so a config reload changes
// output for every component at once.
package logx
