//go:build !(linux || darwin)

package od4

import "syscall"

func reuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}
