// Package api provides the HTTP REST API for Nimbus Core.
//
// It exposes device pairing operations and device registry reads to the
// companion app. Telemetry never flows through this API; devices speak
// MQTT only.
//
// The server follows the same lifecycle pattern as the infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Authentication
//
// All routes except the health check require a bearer token issued by the
// external identity provider and signed with the shared HMAC secret. The
// token's subject claim identifies the acting user; pairing confirmation
// binds that user to the device as its owner.
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
