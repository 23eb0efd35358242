package domain

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

type HeaderKind string

const (
	HeaderText     HeaderKind = "text"
	HeaderImage    HeaderKind = "image"
	HeaderVideo    HeaderKind = "video"
	HeaderDocument HeaderKind = "document"
	HeaderLocation HeaderKind = "location"
)

// HeaderSpec is the content of a template's header section. The set of
// implementations is closed: TextHeader, MediaHeader and LocationHeader.
type HeaderSpec interface {
	Kind() HeaderKind
	isHeader()
}

type TextHeader struct {
	Text string
}

// MediaHeader covers image, video and document headers; all carry a link.
type MediaHeader struct {
	kind     HeaderKind
	URL      string
	Filename string // documents only
}

type LocationHeader struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

func (TextHeader) Kind() HeaderKind { return HeaderText }
func (h MediaHeader) Kind() HeaderKind { return h.kind }
func (LocationHeader) Kind() HeaderKind { return HeaderLocation }
func (TextHeader) isHeader() {}
func (MediaHeader) isHeader() {}
func (LocationHeader) isHeader() {}

func NewTextHeader(text string) TextHeader { return TextHeader{Text: text} }

func NewImageHeader(link string) MediaHeader { return MediaHeader{kind: HeaderImage, URL: link} }

func NewVideoHeader(link string) MediaHeader { return MediaHeader{kind: HeaderVideo, URL: link} }

func NewDocumentHeader(link, filename string) MediaHeader {
	return MediaHeader{kind: HeaderDocument, URL: link, Filename: filename}
}

func NewLocationHeader(lat, lon float64, name, address string) LocationHeader {
	return LocationHeader{Latitude: lat, Longitude: lon, Name: name, Address: address}
}

// ValidateHeader checks every variant exhaustively. A nil header is invalid.
func ValidateHeader(h HeaderSpec) error {
	switch v := h.(type) {
	case nil:
		return fmt.Errorf("%w: missing header", ErrInvalidHeader)
	case TextHeader:
		if strings.TrimSpace(v.Text) == "" {
			return fmt.Errorf("%w: text header is empty", ErrInvalidHeader)
		}
	case MediaHeader:
		switch v.kind {
		case HeaderImage, HeaderVideo, HeaderDocument:
		default:
			return fmt.Errorf("%w: unknown media kind %q", ErrInvalidHeader, v.kind)
		}
		u, err := url.Parse(strings.TrimSpace(v.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %s header needs an http(s) media url", ErrInvalidHeader, v.kind)
		}
	case LocationHeader:
		if math.IsNaN(v.Latitude) || v.Latitude < -90 || v.Latitude > 90 {
			return fmt.Errorf("%w: latitude out of range", ErrInvalidHeader)
		}
		if math.IsNaN(v.Longitude) || v.Longitude < -180 || v.Longitude > 180 {
			return fmt.Errorf("%w: longitude out of range", ErrInvalidHeader)
		}
	default:
		return fmt.Errorf("%w: unsupported header %T", ErrInvalidHeader, h)
	}
	return nil
}

// HeaderInput is the loose, form-shaped description of a header as it arrives
// from the operator surface.
type HeaderInput struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	URL       string `json:"url,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Latitude  string `json:"latitude,omitempty"`
	Longitude string `json:"longitude,omitempty"`
	Name      string `json:"name,omitempty"`
	Address   string `json:"address,omitempty"`
}

// ParseHeader turns a HeaderInput into a validated HeaderSpec.
func ParseHeader(in HeaderInput) (HeaderSpec, error) {
	var h HeaderSpec
	switch HeaderKind(strings.ToLower(strings.TrimSpace(in.Type))) {
	case HeaderText:
		h = NewTextHeader(in.Text)
	case HeaderImage:
		h = NewImageHeader(strings.TrimSpace(in.URL))
	case HeaderVideo:
		h = NewVideoHeader(strings.TrimSpace(in.URL))
	case HeaderDocument:
		h = NewDocumentHeader(strings.TrimSpace(in.URL), strings.TrimSpace(in.Filename))
	case HeaderLocation:
		lat, err := parseCoord(in.Latitude)
		if err != nil {
			return nil, fmt.Errorf("%w: latitude %q is not a number", ErrInvalidHeader, in.Latitude)
		}
		lon, err := parseCoord(in.Longitude)
		if err != nil {
			return nil, fmt.Errorf("%w: longitude %q is not a number", ErrInvalidHeader, in.Longitude)
		}
		h = NewLocationHeader(lat, lon, strings.TrimSpace(in.Name), strings.TrimSpace(in.Address))
	default:
		return nil, fmt.Errorf("%w: unknown header type %q", ErrInvalidHeader, in.Type)
	}
	if err := ValidateHeader(h); err != nil {
		return nil, err
	}
	return h, nil
}

// parseCoord accepts both "45.5" and "45,5".
func parseCoord(s string) (float64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseFloat(s, 64)
}
