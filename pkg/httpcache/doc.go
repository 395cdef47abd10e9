// Package httpcache downloads files over HTTP through a shared on-disk
// response cache.
//
// # Cache
//
// [Cache] stores response bodies as files named by the SHA-256 of the
// namespace and request URL, so identical downloads of the same URL are served
// from disk. Reads open the entry directly without locking; writes stream
// into a temporary file in the cache directory and are published with an
// atomic rename, so concurrent readers never observe a partial entry.
//
// Use [Cache.Namespace] to get a view whose keys never collide with other
// users of the same directory:
//
//	c, _ := httpcache.New(dir, 0)
//	downloads := c.Namespace("downloader")
//
// # Client
//
// [Client] requests identity encoding and disables transparent
// decompression, so an archive is stored exactly as served. Transient
// failures (network errors, 5xx and 429 responses) are retried with
// exponential backoff; see [Retry].
package httpcache
