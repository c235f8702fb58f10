package system

import "net"

// GetFreePort returns a TCP port that was free at the time of the call.
func GetFreePort() (int, error) {
	// Port 0 asks the kernel for a free port.
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port, nil
}
