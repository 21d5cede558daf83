package validate

import (
	"net"
	"regexp"
	"strconv"
	"strings"
)

var numericLabel = regexp.MustCompile(`^(0[xX][0-9a-fA-F]*|[0-9]+)$`)

// legacyIPv4 interprets host the way inet_aton does, so shorthand ("127.1"),
// decimal ("2130706433"), hex ("0x7f000001") and octal ("0177.0.0.1")
// spellings map to the address a resolver would connect to. numeric is false
// when host is a name; ip is nil when host is numeric but not a valid address.
func legacyIPv4(host string) (ip net.IP, numeric bool) {
	labels := strings.Split(host, ".")
	for _, label := range labels {
		if !numericLabel.MatchString(label) {
			return nil, false
		}
	}
	if len(labels) > 4 {
		return nil, true
	}

	parts := make([]uint64, len(labels))
	for i, label := range labels {
		v, err := parseLabel(label)
		if err != nil {
			return nil, true
		}
		parts[i] = v
	}

	// All labels but the last are single bytes; the last fills the rest.
	var addr uint64
	for _, v := range parts[:len(parts)-1] {
		if v > 0xff {
			return nil, true
		}
		addr = addr<<8 | v
	}
	restBits := uint(8 * (5 - len(parts)))
	last := parts[len(parts)-1]
	if last >= 1<<restBits {
		return nil, true
	}
	addr = addr<<restBits | last

	return net.IPv4(byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr)), true
}

func parseLabel(label string) (uint64, error) {
	switch {
	case strings.HasPrefix(label, "0x") || strings.HasPrefix(label, "0X"):
		if len(label) == 2 {
			return 0, nil
		}
		return strconv.ParseUint(label[2:], 16, 32)
	case len(label) > 1 && label[0] == '0':
		return strconv.ParseUint(label[1:], 8, 32)
	default:
		return strconv.ParseUint(label, 10, 32)
	}
}
