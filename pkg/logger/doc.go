// Package logger builds the process-wide structured logger: text output in
// development, JSON in production, every record tagged with the environment.
package logger
