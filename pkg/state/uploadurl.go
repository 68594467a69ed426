package state

import "net"

// UploadURL is the configured upload endpoint, split into the parts we act on.
type UploadURL struct {
	Protocol string
	Hostname string // no port, no brackets
	Port     string // explicit in the URL, or the protocol's default
	Path     string // always starts with /
}

func (u *UploadURL) HostPort() string {
	return net.JoinHostPort(u.Hostname, u.Port)
}
