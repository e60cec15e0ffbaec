// Package service manages the lifecycle of the cqweb HTTP servers: startup,
// signal-driven graceful shutdown and LIFO cleanup of the resources the
// application acquired.
//
// Example usage:
//
//	svc := service.NewHTTPService("cqweb", ":8080", handler,
//	    service.WithShutdownTimeout(30*time.Second),
//	    service.WithLogger(logger),
//	)
//	if err := svc.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	service.WaitForShutdown(ctx, logger, svc)
package service

import "context"

// Service is a component that can be started, stopped and health-checked.
type Service interface {
	// Start returns once the service accepts requests.
	Start(ctx context.Context) error

	// Stop waits for in-flight requests until the context deadline.
	Stop(ctx context.Context) error

	Name() string

	// Health returns nil while the service is running.
	Health() error
}
