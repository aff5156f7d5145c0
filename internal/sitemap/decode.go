// Package sitemap decodes sitemap XML documents and resolves a sitemap index into the
// ordered list of page URLs it references.
package sitemap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// Kind discriminates the shape of a decoded sitemap document.
type Kind int

// Document kinds produced by Decode.
const (
	KindUnknown Kind = iota
	KindURLSet
	KindIndex
)

func (k Kind) String() string {
	switch k {
	case KindURLSet:
		return "urlset"
	case KindIndex:
		return "index"
	default:
		return "unknown"
	}
}

// ErrNoRootElement is returned when the input holds no XML element at all.
var ErrNoRootElement = errors.New("sitemap: no root element")

// Document is a decoded sitemap. Locations holds the <loc> values in document order:
// page URLs for a urlset, child sitemap URLs for an index.
type Document struct {
	Kind      Kind
	Root      string
	Locations []string
	Skipped   int
}

type locEntry struct {
	Locs []string `xml:"loc"`
}

// location returns the first non-blank <loc> of the entry.
func (e locEntry) location() string {
	for _, loc := range e.Locs {
		if loc = strings.TrimSpace(loc); loc != "" {
			return loc
		}
	}
	return ""
}

type urlSet struct {
	URLs []locEntry `xml:"url"`
}

type sitemapIndex struct {
	Sitemaps []locEntry `xml:"sitemap"`
}

// Decode parses raw XML into a Document, honouring the encoding declared in the XML
// prolog. A well-formed document whose root is neither <urlset> nor <sitemapindex>
// yields KindUnknown without an error.
func Decode(body []byte) (Document, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel
	return decode(dec)
}

// DecodeUTF8 is Decode for a body that has already been converted to UTF-8. The prolog's
// encoding label is ignored.
func DecodeUTF8(body []byte) (Document, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	return decode(dec)
}

func decode(dec *xml.Decoder) (Document, error) {
	root, err := firstStartElement(dec)
	if err != nil {
		return Document{}, err
	}

	doc := Document{Root: root.Name.Local}
	var entries []locEntry
	switch root.Name.Local {
	case "urlset":
		var set urlSet
		if err := dec.DecodeElement(&set, &root); err != nil {
			return Document{}, fmt.Errorf("decode urlset: %w", err)
		}
		doc.Kind = KindURLSet
		entries = set.URLs
	case "sitemapindex":
		var idx sitemapIndex
		if err := dec.DecodeElement(&idx, &root); err != nil {
			return Document{}, fmt.Errorf("decode sitemapindex: %w", err)
		}
		doc.Kind = KindIndex
		entries = idx.Sitemaps
	default:
		return doc, nil
	}

	doc.Locations = make([]string, 0, len(entries))
	for _, e := range entries {
		loc := e.location()
		if loc == "" {
			doc.Skipped++
			continue
		}
		doc.Locations = append(doc.Locations, loc)
	}
	return doc, nil
}

func firstStartElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return xml.StartElement{}, ErrNoRootElement
		}
		if err != nil {
			return xml.StartElement{}, fmt.Errorf("decode xml: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}
