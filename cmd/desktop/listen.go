package main

import (
	"net"

	apperrors "github.com/kimhsiao/fieldsync/backend/internal/errors"
)

// listen binds addr. The desktop API has no authentication, so it refuses
// to bind anything but a loopback interface.
func listen(addr string) (net.Listener, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "invalid server.addr", err)
	}
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return nil, apperrors.Newf(apperrors.ErrConfig, "server.addr %q is not a loopback address", addr)
		}
	}
	return net.Listen("tcp", addr)
}
