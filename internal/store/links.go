package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/pbaille/factserp/internal/domain"
)

// DomainOf returns the host part of a URL, the way links are indexed
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// UpsertLink returns the link for rawURL, creating it with the given
// defaults. Title and description of an existing link are left untouched.
func (s *Store) UpsertLink(ctx context.Context, rawURL, title, description string) (*domain.Link, error) {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO links (url, domain, title, description, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(url) DO NOTHING
	`, rawURL, DomainOf(rawURL), title, description, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert link: %w", err)
	}

	return s.getLink(ctx, "SELECT "+linkColumns+" FROM links WHERE url = ?", rawURL)
}

// GetLinkByURL retrieves an active link by exact URL
func (s *Store) GetLinkByURL(ctx context.Context, rawURL string) (*domain.Link, error) {
	return s.getLink(ctx, "SELECT "+linkColumns+" FROM links WHERE url = ? AND is_active = 1", rawURL)
}

const linkColumns = "id, url, domain, title, description, is_active, created_at, updated_at, last_scraped, scrape_count"

func (s *Store) getLink(ctx context.Context, query string, args ...any) (*domain.Link, error) {
	var l domain.Link
	var lastScraped sql.NullTime
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&l.ID, &l.URL, &l.Domain, &l.Title, &l.Description, &l.IsActive,
		&l.CreatedAt, &l.UpdatedAt, &lastScraped, &l.ScrapeCount,
	)
	if err != nil {
		return nil, notFound("get link", err)
	}
	if lastScraped.Valid {
		t := lastScraped.Time
		l.LastScraped = &t
	}
	return &l, nil
}

// UpsertSerpContent stores the scraped page of a link, overwriting every
// scraped field of a previous version
func (s *Store) UpsertSerpContent(ctx context.Context, c *domain.SerpContent) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO serp_contents (
			link_id, url, read_more_link, language, title, text, summary,
			top_image, meta_img, images, movies, keywords, tags, authors,
			meta_keywords, meta_description, meta_lang, meta_favicon, meta_site_name,
			canonical_link, publish_date, created_at, updated_at, scraped_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(link_id) DO UPDATE SET
			url = excluded.url,
			read_more_link = excluded.read_more_link,
			language = excluded.language,
			title = excluded.title,
			text = excluded.text,
			summary = excluded.summary,
			top_image = excluded.top_image,
			meta_img = excluded.meta_img,
			images = excluded.images,
			movies = excluded.movies,
			keywords = excluded.keywords,
			tags = excluded.tags,
			authors = excluded.authors,
			meta_keywords = excluded.meta_keywords,
			meta_description = excluded.meta_description,
			meta_lang = excluded.meta_lang,
			meta_favicon = excluded.meta_favicon,
			meta_site_name = excluded.meta_site_name,
			canonical_link = excluded.canonical_link,
			publish_date = excluded.publish_date,
			updated_at = excluded.updated_at,
			scraped_at = excluded.scraped_at
	`,
		c.LinkID, c.URL, c.ReadMoreLink, c.Language, c.Title, c.Text, c.Summary,
		c.TopImage, c.MetaImg, jsonList(c.Images), jsonList(c.Movies), jsonList(c.Keywords),
		jsonNullable(c.Tags), jsonList(c.Authors), jsonList(c.MetaKeywords),
		c.MetaDescription, c.MetaLang, c.MetaFavicon, c.MetaSiteName, c.CanonicalLink,
		c.PublishDate, now, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert serp content: %w", err)
	}
	return nil
}

// GetSerpContent retrieves the scraped page of a link
func (s *Store) GetSerpContent(ctx context.Context, linkID int64) (*domain.SerpContent, error) {
	var c domain.SerpContent
	var images, movies, keywords, tags, authors, metaKeywords sql.NullString
	var publishDate sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, link_id, url, read_more_link, language, title, text, summary,
			top_image, meta_img, images, movies, keywords, tags, authors,
			meta_keywords, meta_description, meta_lang, meta_favicon, meta_site_name,
			canonical_link, publish_date, created_at, updated_at, scraped_at
		FROM serp_contents WHERE link_id = ?
	`, linkID).Scan(
		&c.ID, &c.LinkID, &c.URL, &c.ReadMoreLink, &c.Language, &c.Title, &c.Text, &c.Summary,
		&c.TopImage, &c.MetaImg, &images, &movies, &keywords, &tags, &authors,
		&metaKeywords, &c.MetaDescription, &c.MetaLang, &c.MetaFavicon, &c.MetaSiteName,
		&c.CanonicalLink, &publishDate, &c.CreatedAt, &c.UpdatedAt, &c.ScrapedAt,
	)
	if err != nil {
		return nil, notFound("get serp content", err)
	}

	c.Images = rawJSON(images)
	c.Movies = rawJSON(movies)
	c.Keywords = rawJSON(keywords)
	c.Tags = rawJSON(tags)
	c.Authors = rawJSON(authors)
	c.MetaKeywords = rawJSON(metaKeywords)
	if publishDate.Valid {
		t := publishDate.Time.UTC()
		c.PublishDate = &t
	}
	return &c, nil
}

// UpsertHtmlContent stores the snapshot of a question and returns its id
func (s *Store) UpsertHtmlContent(ctx context.Context, questionID int64, content string) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO html_contents (question_id, content) VALUES (?, ?)
		ON CONFLICT(question_id) DO UPDATE SET content = excluded.content
	`, questionID, content)
	if err != nil {
		return 0, fmt.Errorf("upsert html content: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, "SELECT id FROM html_contents WHERE question_id = ?", questionID).Scan(&id)
	if err != nil {
		return 0, notFound("get html content", err)
	}
	return id, nil
}

// GetHtmlContent retrieves the snapshot attached to a question
func (s *Store) GetHtmlContent(ctx context.Context, questionID int64) (*domain.HtmlContent, error) {
	var h domain.HtmlContent
	err := s.db.QueryRowContext(ctx,
		"SELECT id, question_id, content FROM html_contents WHERE question_id = ?",
		questionID,
	).Scan(&h.ID, &h.QuestionID, &h.Content)
	if err != nil {
		return nil, notFound("get html content", err)
	}
	return &h, nil
}

// LinkHtmlContent attaches a link to a snapshot. Linking the same pair
// again only updates the rank.
func (s *Store) LinkHtmlContent(ctx context.Context, htmlContentID, linkID int64, rank int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO html_content_urls (html_content_id, link_id, rank) VALUES (?, ?, ?)
		ON CONFLICT(html_content_id, link_id) DO UPDATE SET rank = excluded.rank
	`, htmlContentID, linkID, rank)
	if err != nil {
		return fmt.Errorf("link html content: %w", err)
	}
	return nil
}

// RankedLinks returns the links of a snapshot, most relevant first
func (s *Store) RankedLinks(ctx context.Context, htmlContentID int64) ([]domain.RankedLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hcu.rank, l.id, l.url, l.domain, l.title, l.description, l.is_active,
			l.created_at, l.updated_at, l.last_scraped, l.scrape_count,
			sc.id IS NOT NULL
		FROM html_content_urls hcu
		JOIN links l ON l.id = hcu.link_id
		LEFT JOIN serp_contents sc ON sc.link_id = l.id
		WHERE hcu.html_content_id = ?
		ORDER BY hcu.rank ASC, hcu.id ASC
	`, htmlContentID)
	if err != nil {
		return nil, fmt.Errorf("ranked links: %w", err)
	}
	defer rows.Close()

	var links []domain.RankedLink
	for rows.Next() {
		var rl domain.RankedLink
		var lastScraped sql.NullTime
		if err := rows.Scan(
			&rl.Rank, &rl.Link.ID, &rl.Link.URL, &rl.Link.Domain, &rl.Link.Title, &rl.Link.Description,
			&rl.Link.IsActive, &rl.Link.CreatedAt, &rl.Link.UpdatedAt, &lastScraped, &rl.Link.ScrapeCount,
			&rl.HasSerpContent,
		); err != nil {
			return nil, fmt.Errorf("scan ranked link: %w", err)
		}
		if lastScraped.Valid {
			t := lastScraped.Time
			rl.Link.LastScraped = &t
		}
		links = append(links, rl)
	}
	return links, rows.Err()
}

// RecordResolution counts one successful read against a credential and,
// when linkID is non-zero, against the link that was served. Both counters
// are bumped in a single statement each so concurrent readers never lose
// an update.
func (s *Store) RecordResolution(ctx context.Context, keyID, linkID int64, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record: %w", err)
	}
	defer tx.Rollback()

	if keyID != 0 {
		if _, err := tx.ExecContext(ctx,
			"UPDATE api_keys SET usage_count = usage_count + 1, last_used = ? WHERE id = ?",
			at, keyID,
		); err != nil {
			return fmt.Errorf("record key usage: %w", err)
		}
	}

	if linkID != 0 {
		if _, err := tx.ExecContext(ctx,
			"UPDATE links SET scrape_count = scrape_count + 1, last_scraped = ? WHERE id = ?",
			at, linkID,
		); err != nil {
			return fmt.Errorf("record link scrape: %w", err)
		}
	}

	return tx.Commit()
}

func jsonList(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "[]"
	}
	return string(raw)
}

func jsonNullable(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}

func rawJSON(ns sql.NullString) json.RawMessage {
	if !ns.Valid {
		return nil
	}
	return json.RawMessage(ns.String)
}
