package proxy

import "golang.org/x/sys/unix"

// pollClosed polls the file descriptor for remote closure without reading,
// so pipelined request bytes stay in the socket buffer. It returns true when
// the peer has shut down or the socket errored.
func pollClosed(fd int, timeoutMs int) (bool, error) {
	pollFds := []unix.PollFd{{
		Fd:     int32(fd),
		Events: pollRDHUP | unix.POLLHUP | unix.POLLERR,
	}}

	n, err := unix.Poll(pollFds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	return n > 0 && pollFds[0].Revents != 0, nil
}
