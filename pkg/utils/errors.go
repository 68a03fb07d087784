// Package utils provides shared helpers used across the gateway: error
// wrapping and environment-variable lookups with defaults.
package utils

import "fmt"

// Wrap adds context to an error message. It returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
