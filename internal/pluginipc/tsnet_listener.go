package pluginipc

import (
	"net"
	"strconv"

	"tailscale.com/tsnet"

	"github.com/vinayprograms/crucible/internal/crucibleerr"
)

// ListenTsnet joins a tailnet as hostname (persisting its node state under
// stateDir) and returns a listener reachable from anywhere on that tailnet
// — an alternate Plugin IPC transport for deployments where plugins run on
// a different host than the daemon (§9 "remote Plugin IPC transport",
// recorded as a domain-stack wiring in SPEC_FULL.md).
func ListenTsnet(hostname, stateDir string, port int) (net.Listener, func(), error) {
	srv := &tsnet.Server{Hostname: hostname, Dir: stateDir}
	ln, err := srv.Listen("tcp", portAddr(port))
	if err != nil {
		srv.Close()
		return nil, nil, crucibleerr.Wrap(crucibleerr.Transport, "tsnet listen", err)
	}
	return ln, func() { srv.Close() }, nil
}

func portAddr(port int) string {
	if port <= 0 {
		port = 4242
	}
	return ":" + strconv.Itoa(port)
}
