// Package memory provides in-process stores for development and tests: the
// crawl registry with its status indices, the results index and a blob store.
package memory
