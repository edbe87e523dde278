// Package transfer provides the byte-stream primitives shared by the client
// and the server: chunked file copy over a connected stream with an optional
// bandwidth limit, and local address discovery.
package transfer

import (
	"context"
	"errors"
	"io"
	"net"

	"golang.org/x/time/rate"
)

// DefaultBufferSize is the chunk size used when none is configured.
const DefaultBufferSize = 8192

// NewLimiter returns a limiter allowing bytesPerSecond with a one second
// burst. It returns nil (no limit) when bytesPerSecond <= 0.
func NewLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))
}

// Copy copies src to dst in chunks of bufSize bytes until EOF.
// A nil limiter means unlimited. The context is checked between chunks.
func Copy(ctx context.Context, dst io.Writer, src io.Reader, bufSize int, limiter *rate.Limiter) (int64, error) {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if limiter != nil && bufSize > limiter.Burst() {
		bufSize = limiter.Burst()
	}

	buf := make([]byte, bufSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return written, err
				}
			}
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
			if w != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			return written, rerr
		}
	}
}

// LocalIP returns the IPv4 address this machine uses for outbound traffic.
// It falls back to the first non-loopback interface address, then to
// 127.0.0.1.
func LocalIP() net.IP {
	// No packets are sent: connecting a UDP socket only selects a route.
	if conn, err := net.Dial("udp4", "8.8.8.8:53"); err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			if ip := addr.IP.To4(); ip != nil {
				return ip
			}
		}
	}

	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			if ip := ipnet.IP.To4(); ip != nil {
				return ip
			}
		}
	}

	return net.IPv4(127, 0, 0, 1).To4()
}

// ListenerIP returns the IPv4 address to advertise for a listener opened
// beside conn. It is the local end of conn when that is IPv4, else LocalIP.
func ListenerIP(conn net.Conn) net.IP {
	if addr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		if ip := addr.IP.To4(); ip != nil && !ip.IsUnspecified() {
			return ip
		}
	}
	return LocalIP()
}
