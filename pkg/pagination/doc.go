// Package pagination drives MediaWiki's continuation protocol.
//
// A query that does not fit one response carries a "continue" object. The
// next page is requested by merging that object into the original request;
// the sequence ends when a response carries no "continue".
//
// Example usage:
//
//	req := request.NewBuilder("query").
//		SetString("list", "categorymembers").
//		SetString("cmtitle", "Category:Physics").
//		SetString("cmlimit", "max").
//		Build()
//
//	p := pagination.Paginate(mwClient, req)
//	for resp, err := range p.All(ctx) {
//		if err != nil {
//			saved := p.State() // resume later with pagination.Resume
//			...
//		}
//		...
//	}
//
// Pages of one session are strictly sequential. Independent sessions may run
// concurrently; BatchFetcher runs many of them on a worker pool.
package pagination
