// Package ancil wraps a Unix domain stream socket so that file descriptors
// carried as SCM_RIGHTS ancillary data are never dropped, double-closed, or
// reordered relative to the byte stream they accompanied.
//
// net.UnixConn's own ReadMsgUnix/WriteMsgUnix do not report MSG_CTRUNC with
// the granularity this package's truncation invariant needs, so Conn talks
// to the kernel directly via golang.org/x/sys/unix against the connection's
// raw file descriptor, going through (*net.UnixConn).SyscallConn so reads
// and writes still participate in the runtime's netpoller instead of
// blocking an OS thread per connection.
package ancil

import (
	"errors"
	"io"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// maxQueuedFDs bounds the ancillary buffer size per recvmsg call. Wayland
// connections pass at most a handful of descriptors per message (shm pool
// fds, sync fds); 16 is generous headroom.
const maxQueuedFDs = 16

// ErrAncilTruncated reports that the kernel truncated the ancillary data
// region of a recvmsg call, meaning at least one descriptor was lost. The
// stream is unrecoverable once this happens.
var ErrAncilTruncated = errors.New("ancil: kernel truncated ancillary data (MSG_CTRUNC); stream is unrecoverable")

// Conn wraps a *net.UnixConn, accumulating any file descriptors received
// during Read into an internal FDQueue, and providing WriteWithFDs to emit
// descriptors as SCM_RIGHTS ancillary data alongside a payload.
type Conn struct {
	raw   *net.UnixConn
	queue FDQueue
}

// New wraps c. c must be a connected Unix domain stream socket.
func New(c *net.UnixConn) *Conn {
	return &Conn{raw: c}
}

// Read implements io.Reader. Any file descriptors received alongside this
// read's bytes are appended to the connection's FDQueue; call PopFDs to
// claim them once a full message has been decoded.
func (c *Conn) Read(p []byte) (int, error) {
	rc, err := c.raw.SyscallConn()
	if err != nil {
		return 0, err
	}

	oob := make([]byte, unix.CmsgSpace(maxQueuedFDs*4))
	var n, oobn, recvFlags int
	var sockErr error
	ctrlErr := rc.Read(func(fd uintptr) bool {
		n, oobn, recvFlags, _, sockErr = unix.Recvmsg(int(fd), p, oob, 0)
		return sockErr != unix.EAGAIN
	})
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	if sockErr != nil {
		return 0, sockErr
	}
	if recvFlags&unix.MSG_CTRUNC != 0 {
		return n, ErrAncilTruncated
	}
	if oobn > 0 {
		fds, err := parseRights(oob[:oobn])
		if err != nil {
			return n, err
		}
		c.queue.Push(fds)
	}
	if n == 0 {
		// An orderly recvmsg of zero bytes with no error means the peer
		// performed a clean shutdown of its write half.
		return 0, io.EOF
	}
	return n, nil
}

// PopFDs returns and clears every descriptor accumulated by Read calls since
// the last PopFDs, in the order they were received.
func (c *Conn) PopFDs() []int {
	return c.queue.PopAll()
}

// WriteWithFDs writes p as a single sendmsg call, attaching fds as SCM_RIGHTS
// ancillary data. It does not take ownership of fds: the caller is
// responsible for closing them once the kernel has duplicated them into the
// receiver (i.e. once this call returns, regardless of outcome).
func (c *Conn) WriteWithFDs(p []byte, fds []int) (int, error) {
	rc, err := c.raw.SyscallConn()
	if err != nil {
		return 0, err
	}

	oob := unix.UnixRights(fds...)
	if len(p) == 0 {
		if len(oob) == 0 {
			return 0, nil
		}
		// A zero-length payload still needs to carry the descriptors.
		if err := c.sendOnce(rc, nil, oob); err != nil {
			return 0, err
		}
		return 0, nil
	}

	total := 0
	for total < len(p) {
		n, err := c.sendChunk(rc, p[total:], oob)
		total += n
		oob = nil // the ancillary data rides with the first chunk only
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *Conn) sendOnce(rc syscall.RawConn, p, oob []byte) error {
	_, err := c.sendChunk(rc, p, oob)
	return err
}

func (c *Conn) sendChunk(rc syscall.RawConn, p, oob []byte) (int, error) {
	var n int
	var sockErr error
	ctrlErr := rc.Write(func(fd uintptr) bool {
		n, sockErr = unix.SendmsgN(int(fd), p, oob, nil, 0)
		return sockErr != unix.EAGAIN
	})
	if ctrlErr != nil {
		return n, ctrlErr
	}
	return n, sockErr
}

// Close closes the underlying socket and any descriptors still queued but
// never popped, so nothing leaks when a connection is torn down mid-message.
func (c *Conn) Close() error {
	c.queue.CloseAll()
	return c.raw.Close()
}

func parseRights(oob []byte) ([]int, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	var fds []int
	for i := range msgs {
		rights, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}
