// Package staticcache is a local, disk-backed cache for static HTTP
// resources, keyed by URL. Asking for a URL re-uses the previously downloaded
// copy when the origin says it has not changed, and downloads a fresh copy
// otherwise. Freshness is decided purely with the Last-Modified and ETag
// validators the origin sent, replayed verbatim as If-Modified-Since and
// If-None-Match; there is no Cache-Control or Expires handling, so the cache
// suits static content (object storage, a web server exporting a directory)
// rather than general HTTP traffic. Only GET requests are ever issued.
//
// Metadata lives in a SQLite database under the cache root and bodies live as
// randomly named files under <root>/content, so separate threads or processes
// may point their own Cache instance at the same root: file names never
// collide, and a metadata row only becomes visible once its body is fully on
// disk. Concurrent downloads of the same URL are not coalesced; the last
// writer's row wins and the loser's body file is left orphaned. Orphaned
// files are never reclaimed.
//
// If the origin cannot be reached while revalidating, the cached copy is
// served silently; losing connectivity never makes previously cached data
// unavailable.
package staticcache
