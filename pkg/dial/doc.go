// Package dial owns outbound gRPC connection pooling and the per-peer TLS
// rules shared by the driver and peer relay clients.
package dial
