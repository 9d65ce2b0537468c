package contentid

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/nexusforge/modcache/pkg/bencode"
)

// ComputeContentID derives the ContentId (§4.5): lowercase hex SHA-1 over
// the canonical bencoding of {provider, url_canonical, <whitelisted fields>}.
func ComputeContentID(metadata ProviderMetadata, primaryURL string) (string, error) {
	provider := metadata["provider"].AsString()

	urlCanonical, err := NormalizeURL(primaryURL, true)
	if err != nil {
		return "", fmt.Errorf("contentid: normalize primary URL: %w", err)
	}

	dict := bencode.Dict{
		"provider":      provider,
		"url_canonical": urlCanonical,
	}

	for _, field := range Whitelist[provider] {
		val, ok := metadata[field]
		if !ok {
			val = EmptyValue()
		}
		switch val.Kind {
		case KindInteger:
			dict[field] = val.Int
		default:
			dict[field] = val.AsString()
		}
	}

	encoded, err := bencode.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("contentid: canonical bencode: %w", err)
	}

	sum := sha1.Sum(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// pieceSizeCandidates is the fixed ladder §4.5 iterates (64K..4M).
var pieceSizeCandidates = []uint64{
	64 * 1024,
	128 * 1024,
	256 * 1024,
	512 * 1024,
	1024 * 1024,
	2 * 1024 * 1024,
	4 * 1024 * 1024,
}

const maxPieceCount = 1 << 20

// DeterminePieceSize returns the smallest candidate piece size such that the
// resulting piece count does not exceed 2^20, falling back to 4MiB (§4.5).
func DeterminePieceSize(fileSize uint64) uint32 {
	for _, size := range pieceSizeCandidates {
		if ceilDiv(fileSize, size) <= maxPieceCount {
			return uint32(size)
		}
	}
	return uint32(pieceSizeCandidates[len(pieceSizeCandidates)-1])
}

func ceilDiv(a, b uint64) uint64 {
	if a == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// NormalizeURL decomposes u into scheme/host/path/query/fragment, lowercases
// scheme and host, removes default ports, strips a trailing path slash
// (unless path is "/"), drops the fragment, and optionally the query (§4.5).
func NormalizeURL(raw string, stripQuery bool) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("contentid: invalid URL %q: %w", raw, err)
	}

	if special, ok := providerSpecificNormalize(parsed); ok {
		return special, nil
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())
	host = stripDefaultPort(scheme, host, parsed.Port())

	path := parsed.EscapedPath()
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	var b strings.Builder
	if scheme != "" {
		b.WriteString(scheme)
		b.WriteString("://")
	}
	b.WriteString(host)
	b.WriteString(path)

	if !stripQuery && parsed.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(parsed.RawQuery)
	}

	return b.String(), nil
}

func stripDefaultPort(scheme, host, port string) string {
	if port == "" {
		return host
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		return host
	}
	return host + ":" + port
}

var (
	modIndexRe  = regexp.MustCompile(`^/([^/]+)/mods/(\d+)`)
	meshSiteRe  = regexp.MustCompile(`^/files/file/(\d+)`)
	anonCloudRe = regexp.MustCompile(`^/(file|folder)/([A-Za-z0-9_-]+)`)
)

// providerSpecificNormalize applies the per-provider pre-normalization
// rules of §4.5 based on path shape, independent of host allowlisting
// (the host-to-provider mapping itself lives in the provider handlers).
func providerSpecificNormalize(u *url.URL) (string, bool) {
	host := strings.ToLower(u.Hostname())

	if strings.Contains(host, "mod-index") {
		if m := modIndexRe.FindStringSubmatch(u.Path); m != nil {
			return fmt.Sprintf("modindex:%s:%s", m[1], m[2]), true
		}
	}
	if strings.Contains(host, "mesh-protected") {
		if m := meshSiteRe.FindStringSubmatch(u.Path); m != nil {
			return fmt.Sprintf("meshsite:%s", m[1]), true
		}
	}
	if strings.Contains(host, "anon-cloud") {
		if m := anonCloudRe.FindStringSubmatch(u.Path); m != nil {
			return fmt.Sprintf("anoncloud:%s:%s", m[1], m[2]), true
		}
	}

	return "", false
}
