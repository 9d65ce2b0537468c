// Package factory assembles the fixed, ordered provider handler chain
// (§4.3): it is the one package allowed to import every handler
// sub-package, since each of those only depends on the shared
// provider.Handler contract and would otherwise form an import cycle
// with a factory living inside pkg/provider itself.
package factory

import (
	"github.com/nexusforge/modcache/pkg/provider"
	"github.com/nexusforge/modcache/pkg/provider/anoncloud"
	"github.com/nexusforge/modcache/pkg/provider/directhttp"
	"github.com/nexusforge/modcache/pkg/provider/jsgated"
	"github.com/nexusforge/modcache/pkg/provider/meshsite"
	"github.com/nexusforge/modcache/pkg/provider/modindex"
)

// New builds the handler chain in dispatch order, with the DirectHTTP
// catch-all strictly last.
func New(opts provider.Options) []provider.Handler {
	return []provider.Handler{
		modindex.New(opts.HTTPClient, opts.APIKey),
		meshsite.New(),
		anoncloud.New(opts.HTTPClient),
		jsgated.New(),
		directhttp.New(opts.HTTPClient, opts.Timeout),
	}
}
