// Package pasv encodes and decodes the comma-separated host/port tuple used
// by PASV replies and the auxiliary channel bootstrap replies.
//
// The tuple carries four IPv4 octets followed by the port split into its
// high and low byte: "a,b,c,d,p1,p2" where port = 256*p1 + p2.
package pasv

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrMalformed is returned when a tuple cannot be decoded.
var ErrMalformed = errors.New("pasv: malformed address tuple")

// Addr is a passive address: an IPv4 host and a TCP port.
type Addr struct {
	IP   net.IP
	Port int
}

// String returns the address in host:port form, suitable for net.Dial.
func (a Addr) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(a.Port))
}

// Encode formats ip and port as "a,b,c,d,p1,p2".
// Converts 192.168.1.100 and 50000 to "192,168,1,100,195,80".
func Encode(ip net.IP, port int) (string, error) {
	v4 := ip.To4()
	if v4 == nil {
		return "", fmt.Errorf("pasv: %v is not an IPv4 address", ip)
	}
	if port < 0 || port > 65535 {
		return "", fmt.Errorf("pasv: port %d out of range", port)
	}
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", v4[0], v4[1], v4[2], v4[3], port/256, port%256), nil
}

// EncodeAddr is like Encode but takes a net.Addr, typically a listener's
// address. Only *net.TCPAddr is accepted.
func EncodeAddr(addr net.Addr) (string, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return "", fmt.Errorf("pasv: unsupported address type %T", addr)
	}
	return Encode(tcp.IP, tcp.Port)
}

// Decode parses a tuple produced by Encode. Only digits and commas are
// accepted; every field must be in 0..255.
func Decode(tuple string) (Addr, error) {
	for _, r := range tuple {
		if (r < '0' || r > '9') && r != ',' {
			return Addr{}, fmt.Errorf("%w: unexpected character %q", ErrMalformed, r)
		}
	}

	fields := strings.Split(tuple, ",")
	if len(fields) != 6 {
		return Addr{}, fmt.Errorf("%w: want 6 fields, got %d", ErrMalformed, len(fields))
	}

	var b [6]byte
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil || v < 0 || v > 255 {
			return Addr{}, fmt.Errorf("%w: bad field %q", ErrMalformed, f)
		}
		b[i] = byte(v)
	}

	return Addr{
		IP:   net.IPv4(b[0], b[1], b[2], b[3]).To4(),
		Port: int(b[4])*256 + int(b[5]),
	}, nil
}

// Extract returns the text between the first '(' and the following ')' of
// a reply line, e.g. the tuple in "227 Entering passive mode (1,2,3,4,5,6)".
func Extract(reply string) (string, error) {
	start := strings.IndexByte(reply, '(')
	if start < 0 {
		return "", fmt.Errorf("%w: no tuple in %q", ErrMalformed, reply)
	}
	end := strings.IndexByte(reply[start:], ')')
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated tuple in %q", ErrMalformed, reply)
	}
	return reply[start+1 : start+end], nil
}

// Parse extracts and decodes the tuple in reply.
func Parse(reply string) (Addr, error) {
	tuple, err := Extract(reply)
	if err != nil {
		return Addr{}, err
	}
	return Decode(tuple)
}
