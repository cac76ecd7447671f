// Package indexer defines the core types and interfaces shared by the sitemap
// crawler, quota tracker, batch scheduler, and submission executor that make up
// the indexing submission pipeline.
package indexer
