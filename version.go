// Package grader holds build metadata shared by the grader binaries.
package grader

// Version is the grader release version.
const Version = "0.3.0"
