package publish

import (
	"strings"
	"unicode/utf8"
)

// Sidebar colors for chat announcements.
const (
	ColorPublished = "#36a64f"
	ColorScheduled = "#2196f3"
)

// Announcement is a post formatted for display in a team chat.
type Announcement struct {
	Title    string
	URL      string
	Body     string
	Color    string
	ImageURL string
	Fields   []Field
}

// Field is a key-value pair displayed in an announcement.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Announce formats content for chat channels.
func Announce(c Content) Announcement {
	a := Announcement{
		Title:    c.Title,
		URL:      c.URL,
		Body:     c.Excerpt,
		Color:    ColorPublished,
		ImageURL: c.FeaturedImageURL,
	}
	if a.Body == "" {
		a.Body = c.MetaDescription
	}
	if c.TriggeredBy == TriggerSchedule {
		a.Color = ColorScheduled
	}

	site := c.WebsiteName
	if site == "" {
		site = c.Domain
	}
	if site != "" {
		a.Fields = append(a.Fields, Field{Name: "Website", Value: site, Short: true})
	}
	if c.TriggeredBy != "" {
		a.Fields = append(a.Fields, Field{Name: "Published by", Value: c.TriggeredBy, Short: true})
	}
	if len(c.Tags) > 0 {
		a.Fields = append(a.Fields, Field{Name: "Tags", Value: strings.Join(c.Tags, ", ")})
	}
	return a
}

// Summary renders template for a social post, at most limit runes long. The
// placeholders are {title}, {excerpt}, {site} and {url}. When the text must be
// shortened the URL is kept whole and moved to the end.
func Summary(template string, c Content, limit int) string {
	if template == "" {
		template = "{title} {url}"
	}
	fill := func(url string) string {
		r := strings.NewReplacer("{title}", c.Title, "{excerpt}", c.Excerpt, "{site}", c.WebsiteName, "{url}", url)
		return strings.TrimSpace(r.Replace(template))
	}

	full := fill(c.URL)
	if limit <= 0 || utf8.RuneCountInString(full) <= limit {
		return full
	}
	if !strings.Contains(template, "{url}") {
		return truncateRunes(full, limit)
	}

	text := strings.Join(strings.Fields(fill("")), " ")
	room := limit - utf8.RuneCountInString(c.URL) - 1
	if room < 1 {
		return c.URL
	}
	return truncateRunes(text, room) + " " + c.URL
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
