// Package sitemap parses sitemap documents and walks sitemap-index trees.
package sitemap

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/antchfx/xmlquery"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
)

// Queries match on local names so documents with or without the sitemaps.org
// default namespace parse the same way.
const (
	indexLocQuery = "./*[local-name()='sitemap']/*[local-name()='loc']"
	leafLocQuery  = "./*[local-name()='url']/*[local-name()='loc']"
)

// Parse classifies a sitemap document as an index or a URL set and returns its
// locations in document order. Locations containing control characters cannot
// be stored one per line, so they land in Rejected instead.
func Parse(body []byte) (indexer.SitemapNode, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return indexer.SitemapNode{}, fmt.Errorf("%w: %v", indexer.ErrParse, err)
	}
	root := rootElement(doc)
	if root == nil {
		return indexer.SitemapNode{}, fmt.Errorf("%w: document has no root element", indexer.ErrParse)
	}

	var (
		kind  indexer.NodeKind
		query string
	)
	switch root.Data {
	case "sitemapindex":
		kind, query = indexer.NodeIndex, indexLocQuery
	case "urlset":
		kind, query = indexer.NodeLeafSet, leafLocQuery
	default:
		return indexer.SitemapNode{}, fmt.Errorf("%w: unexpected root element %q", indexer.ErrParse, root.Data)
	}

	nodes, err := xmlquery.QueryAll(root, query)
	if err != nil {
		return indexer.SitemapNode{}, fmt.Errorf("%w: %v", indexer.ErrParse, err)
	}
	node := indexer.SitemapNode{Kind: kind, Locations: make([]string, 0, len(nodes))}
	for _, n := range nodes {
		loc := strings.TrimSpace(n.InnerText())
		switch {
		case loc == "":
		case strings.ContainsFunc(loc, unicode.IsControl):
			node.Rejected = append(node.Rejected, loc)
		default:
			node.Locations = append(node.Locations, loc)
		}
	}
	return node, nil
}

func rootElement(doc *xmlquery.Node) *xmlquery.Node {
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n
		}
	}
	return nil
}
