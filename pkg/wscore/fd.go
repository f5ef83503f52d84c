package wscore

import (
	"net"
	"syscall"
)

// socketFD extracts the raw file descriptor from a net.Conn via the
// SyscallConn interface (grounded on
// whisper-chat/internal/ws/epoll.go's socketFD helper). Using SyscallConn's
// Control callback rather than (*os.File).Fd() avoids dup-ing the
// descriptor, which would leave the original fd's non-blocking mode and
// epoll registration out of sync with the duplicate.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	var fd int
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
