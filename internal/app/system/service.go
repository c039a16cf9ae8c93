// Package system runs the long-lived parts of loyaltyd in a fixed order.
package system

import "context"

// Service is a lifecycle-managed component such as the HTTP server or the
// expiry sweeper.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
