// Package log provides leveled, structured logging for ebb components.
//
// Loggers are constructed explicitly and passed by dependency injection;
// there is no process-global logger. Entries flow through a Formatter
// (text or JSON) into one or more Outputs.
package log
