// Package logx is linkguard's structured logging on top of zerolog.
//
// Console output is human readable, the optional file sink keeps JSON, and
// an optional chat sink mirrors warnings into the moderators' log chat with
// a level floor and a rate limit.
package logx
