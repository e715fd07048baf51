package safeurl

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
)

// Result 校验结果
type Result struct {
	Safe  bool
	Error string
}

// 拒绝原因
const (
	ReasonInvalid   = "Invalid URL format"
	ReasonScheme    = "Only HTTPS URLs are allowed"
	ReasonLocalhost = "Localhost URLs are not allowed"
	ReasonPrivate   = "Private IP addresses are not allowed"
)

// blockedPrefixes 覆盖本机、私有、链路本地、组播和保留段
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// Check 校验 URL：仅允许 https，拒绝 localhost 以及字面量私有地址。
// 域名只按字面判断，解析后的地址由 DialGuard 在连接时再次校验。
func Check(raw string) Result {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return Result{Error: ReasonInvalid}
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return Result{Error: ReasonScheme}
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return Result{Error: ReasonInvalid}
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return Result{Error: ReasonLocalhost}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Unmap().IsLoopback() {
			return Result{Error: ReasonLocalhost}
		}
		if IsBlocked(addr) {
			return Result{Error: ReasonPrivate}
		}
	}

	return Result{Safe: true}
}

// IsBlocked 判断地址是否落在禁止访问的网段内
func IsBlocked(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() || addr.IsUnspecified() {
		return true
	}
	if addr == netip.AddrFrom4([4]byte{255, 255, 255, 255}) {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// DialGuard 作为 net.Dialer.Control 使用，拒绝连接到被禁止的地址
func DialGuard(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("safeurl: bad dial address %q: %w", address, err)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("safeurl: bad dial address %q: %w", address, err)
	}
	if IsBlocked(addr) {
		return fmt.Errorf("safeurl: connection to %s refused: %s", addr, ReasonPrivate)
	}
	return nil
}
