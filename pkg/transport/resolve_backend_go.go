//go:build !cgo || netgo

package transport

const SystemResolverBackend = "Go's native resolver, reading /etc/hosts and /etc/resolv.conf"
