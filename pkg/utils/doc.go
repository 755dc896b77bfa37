// Package utils holds small helpers shared across recall packages: panic
// recovery for worker goroutines and vector math for embedding comparison.
package utils
