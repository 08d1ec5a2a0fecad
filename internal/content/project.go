package content

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pbaille/factserp/internal/domain"
)

// KnownFields lists every projectable SerpContent field in response order
var KnownFields = []string{
	"url",
	"read_more_link",
	"language",
	"title",
	"top_image",
	"meta_img",
	"images",
	"movies",
	"keywords",
	"meta_keywords",
	"tags",
	"authors",
	"publish_date",
	"summary",
	"meta_description",
	"meta_lang",
	"meta_favicon",
	"meta_site_name",
	"canonical_link",
	"text",
}

// ParseFields splits a comma separated field list. Blank entries are
// dropped and an empty list yields nil.
func ParseFields(param string) []string {
	var fields []string
	for _, f := range strings.Split(param, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// Project returns the requested fields of c. No fields selects all of
// them; names that are not SerpContent fields are ignored.
func Project(c *domain.SerpContent, fields []string) map[string]any {
	if len(fields) == 0 {
		fields = KnownFields
	}

	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := fieldValue(c, f); ok {
			out[f] = v
		}
	}
	return out
}

func fieldValue(c *domain.SerpContent, name string) (any, bool) {
	switch name {
	case "url":
		return c.URL, true
	case "read_more_link":
		return c.ReadMoreLink, true
	case "language":
		return c.Language, true
	case "title":
		return c.Title, true
	case "top_image":
		return c.TopImage, true
	case "meta_img":
		return c.MetaImg, true
	case "images":
		return list(c.Images), true
	case "movies":
		return list(c.Movies), true
	case "keywords":
		return list(c.Keywords), true
	case "meta_keywords":
		return list(c.MetaKeywords), true
	case "tags":
		if len(c.Tags) == 0 {
			return nil, true
		}
		return c.Tags, true
	case "authors":
		return list(c.Authors), true
	case "publish_date":
		return FormatTime(c.PublishDate), true
	case "summary":
		return c.Summary, true
	case "meta_description":
		return c.MetaDescription, true
	case "meta_lang":
		return c.MetaLang, true
	case "meta_favicon":
		return c.MetaFavicon, true
	case "meta_site_name":
		return c.MetaSiteName, true
	case "canonical_link":
		return c.CanonicalLink, true
	case "text":
		return c.Text, true
	}
	return nil, false
}

func list(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("[]")
	}
	return raw
}

// FormatTime renders a timestamp as RFC 3339 in UTC, or nil
func FormatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
