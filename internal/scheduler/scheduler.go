// Package scheduler partitions the pending queue across credentials and splits
// each partition into batch-sized chunks.
package scheduler

import "github.com/JakeFAU/sitemap-indexer/internal/indexer"

// Partition assigns contiguous, in-order slices of pending to each credential,
// each at most that credential's remaining quota. Every credential gets an entry,
// possibly empty. Partition sizes sum to min(len(pending), sum(remaining)).
func Partition(pending []string, remaining []int) [][]string {
	out := make([][]string, len(remaining))
	offset := 0
	for i, r := range remaining {
		n := min(max(r, 0), len(pending)-offset)
		out[i] = pending[offset : offset+n : offset+n]
		offset += n
	}
	return out
}

// Chunk splits urls into ordered slices of at most size entries. A size outside
// (0, indexer.MaxChunkSize] is clamped to indexer.MaxChunkSize.
func Chunk(urls []string, size int) [][]string {
	if size <= 0 || size > indexer.MaxChunkSize {
		size = indexer.MaxChunkSize
	}
	chunks := make([][]string, 0, (len(urls)+size-1)/size)
	for start := 0; start < len(urls); start += size {
		end := min(start+size, len(urls))
		chunks = append(chunks, urls[start:end:end])
	}
	return chunks
}

// Plan combines Partition and Chunk into one Assignment per credential.
// remaining is index-aligned with creds; a credential without an entry has 0
// remaining and entries beyond len(creds) are ignored.
func Plan(pending []string, creds []indexer.Credential, remaining []int, chunkSize int) []indexer.Assignment {
	aligned := make([]int, len(creds))
	copy(aligned, remaining)
	parts := Partition(pending, aligned)
	plan := make([]indexer.Assignment, len(creds))
	for i, c := range creds {
		plan[i] = indexer.Assignment{
			Credential: c,
			Remaining:  aligned[i],
			URLs:       parts[i],
			Chunks:     Chunk(parts[i], chunkSize),
		}
	}
	return plan
}
