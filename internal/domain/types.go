package domain

import (
	"encoding/json"
	"time"
)

// Dataset is a knowledge-graph benchmark such as yago or factbench
type Dataset struct {
	ID          int64     `json:"-"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Fact is one subject-relation-object statement of a dataset
type Fact struct {
	ID        int64     `json:"-"`
	DatasetID int64     `json:"-"`
	FactID    string    `json:"fact_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Question is a verification question attached to a fact
type Question struct {
	ID          int64   `json:"-"`
	FactID      int64   `json:"-"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
	IsFetchable bool    `json:"is_fetchable"`
	IsMain      bool    `json:"is_main"`
	Position    int     `json:"-"`
}

// Link indexes a URL seen in search results
type Link struct {
	ID          int64      `json:"-"`
	URL         string     `json:"url"`
	Domain      string     `json:"domain"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastScraped *time.Time `json:"last_scraped"`
	ScrapeCount int        `json:"scrape_count"`
}

// SerpContent is the scraped metadata of a single page. List-valued
// fields keep the raw JSON the scraper produced.
type SerpContent struct {
	ID              int64
	LinkID          int64
	URL             string
	ReadMoreLink    string
	Language        string
	Title           string
	Text            string
	Summary         string
	TopImage        string
	MetaImg         string
	Images          json.RawMessage
	Movies          json.RawMessage
	Keywords        json.RawMessage
	Tags            json.RawMessage
	Authors         json.RawMessage
	MetaKeywords    json.RawMessage
	MetaDescription string
	MetaLang        string
	MetaFavicon     string
	MetaSiteName    string
	CanonicalLink   string
	PublishDate     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ScrapedAt       time.Time
}

// HtmlContent is the rendered search page captured for a fetchable question
type HtmlContent struct {
	ID         int64
	QuestionID int64
	Content    string
}

// RankedLink is a link attached to an HtmlContent with its relevance rank
type RankedLink struct {
	Rank           int
	Link           Link
	HasSerpContent bool
}

// APIKey is a credential presented to the retrieval API
type APIKey struct {
	ID         int64      `json:"-"`
	UserName   string     `json:"user"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	Key        string     `json:"key"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsed   *time.Time `json:"last_used"`
	UsageCount int        `json:"usage_count"`
}

// Triple is a (subject, relation, object) statement as exported by the benchmark
type Triple []string
