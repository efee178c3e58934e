package services

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ObjectEntry is one object in a listing.
type ObjectEntry struct {
	Key          string    `json:"key"`
	Size         uint64    `json:"size"`
	LastModified time.Time `json:"lastModified"`
	Name         string    `json:"name"`
}

// PrefixEntry is one common prefix ("folder") in a listing.
type PrefixEntry struct {
	Prefix string `json:"prefix"`
	Name   string `json:"name"`
}

// ListResult is one page of a delimited listing.
type ListResult struct {
	Path       string        `json:"path"`
	Files      []ObjectEntry `json:"files"`
	Folders    []PrefixEntry `json:"folders"`
	Truncated  bool          `json:"truncated"`
	NextMarker string        `json:"nextMarker,omitempty"`
}

// ListParser turns a ListObjects response body into a ListResult.
type ListParser interface {
	Parse(body []byte) (ListResult, error)
}

// XMLListParser parses ListBucketResult documents with encoding/xml,
// keeping entries in document order.
type XMLListParser struct{}

type xmlContents struct {
	Key          string `xml:"Key"`
	Size         string `xml:"Size"`
	LastModified string `xml:"LastModified"`
}

type xmlCommonPrefix struct {
	Prefix string `xml:"Prefix"`
}

func (XMLListParser) Parse(body []byte) (ListResult, error) {
	result := ListResult{Files: []ObjectEntry{}, Folders: []PrefixEntry{}}
	if len(bytes.TrimSpace(body)) == 0 {
		return result, fmt.Errorf("%w: empty list response", ErrParse)
	}

	dec := xml.NewDecoder(bytes.NewReader(body))
	root, err := rootElement(dec)
	if err != nil {
		return result, err
	}
	if root.Name.Local != "ListBucketResult" {
		return result, fmt.Errorf("%w: unexpected root element <%s>", ErrParse, root.Name.Local)
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return result, fmt.Errorf("%w: unterminated ListBucketResult", ErrParse)
		}
		if err != nil {
			return result, fmt.Errorf("%w: %v", ErrParse, err)
		}

		switch t := tok.(type) {
		case xml.EndElement:
			// end of root
			return result, nil
		case xml.StartElement:
			if err := parseChild(dec, t, &result); err != nil {
				return result, err
			}
		}
	}
}

func rootElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, fmt.Errorf("%w: %v", ErrParse, err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start, nil
		}
	}
}

func parseChild(dec *xml.Decoder, start xml.StartElement, result *ListResult) error {
	switch start.Name.Local {
	case "Contents":
		var c xmlContents
		if err := dec.DecodeElement(&c, &start); err != nil {
			return fmt.Errorf("%w: Contents: %v", ErrParse, err)
		}
		entry, err := c.entry()
		if err != nil {
			return err
		}
		result.Files = append(result.Files, entry)
	case "CommonPrefixes":
		var p xmlCommonPrefix
		if err := dec.DecodeElement(&p, &start); err != nil {
			return fmt.Errorf("%w: CommonPrefixes: %v", ErrParse, err)
		}
		result.Folders = append(result.Folders, PrefixEntry{Prefix: p.Prefix, Name: prefixName(p.Prefix)})
	case "IsTruncated":
		var v string
		if err := dec.DecodeElement(&v, &start); err != nil {
			return fmt.Errorf("%w: IsTruncated: %v", ErrParse, err)
		}
		truncated, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: IsTruncated %q", ErrParse, v)
		}
		result.Truncated = truncated
	case "NextMarker":
		if err := dec.DecodeElement(&result.NextMarker, &start); err != nil {
			return fmt.Errorf("%w: NextMarker: %v", ErrParse, err)
		}
	default:
		if err := dec.Skip(); err != nil {
			return fmt.Errorf("%w: %v", ErrParse, err)
		}
	}
	return nil
}

func (c xmlContents) entry() (ObjectEntry, error) {
	size, err := strconv.ParseUint(strings.TrimSpace(c.Size), 10, 64)
	if err != nil {
		return ObjectEntry{}, fmt.Errorf("%w: size %q for key %q", ErrParse, c.Size, c.Key)
	}

	var modified time.Time
	if ts := strings.TrimSpace(c.LastModified); ts != "" {
		modified, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return ObjectEntry{}, fmt.Errorf("%w: LastModified %q for key %q", ErrParse, c.LastModified, c.Key)
		}
	}

	return ObjectEntry{
		Key:          c.Key,
		Size:         size,
		LastModified: modified,
		Name:         objectName(c.Key),
	}, nil
}

// objectName is the last path segment of key.
func objectName(key string) string {
	return key[strings.LastIndex(key, "/")+1:]
}

// prefixName is the last non-empty path segment of prefix.
func prefixName(prefix string) string {
	return objectName(strings.TrimRight(prefix, "/"))
}

var _ ListParser = XMLListParser{}
