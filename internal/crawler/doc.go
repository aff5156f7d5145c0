// Package crawler defines the data model and the narrow interfaces shared by the
// sitemap resolver, the metadata extractor, the batch runner, and the HTTP layer.
package crawler
