package parser

import (
	"encoding/xml"
	"fmt"
)

// rssFeed models the subset of RSS 2.0 this platform consumes.
type rssFeed struct {
	XMLName xml.Name  `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Link        string `xml:"link"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}

// atomFeed models the subset of Atom this platform consumes.
type atomFeed struct {
	XMLName xml.Name    `xml:"http://www.w3.org/2005/Atom feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title   string      `xml:"title"`
	Summary string      `xml:"summary"`
	Links   []atomLink  `xml:"link"`
	Updated string      `xml:"updated"`
	ID      string       `xml:"id"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

// FeedItem is one normalized entry from an RSS <item> or Atom <entry>.
type FeedItem struct {
	Title       string
	Description string
	Link        string
	Published   string
	GUID        string
}

// parseFeed tries RSS first, then Atom, and returns a Result built from
// the first item only (callers needing every item should use ParseFeedItems).
func parseFeed(content []byte) (Result, error) {
	items, err := ParseFeedItems(content)
	if err != nil {
		return Result{}, err
	}
	if len(items) == 0 {
		return Result{}, fmt.Errorf("feed contained no items")
	}
	first := items[0]
	return Result{Title: first.Title, Body: first.Description}, nil
}

// ParseFeedItems parses RSS <item> or Atom <entry> elements into a
// normalized list, trying RSS first and falling back to Atom.
func ParseFeedItems(content []byte) ([]FeedItem, error) {
	var rss rssFeed
	if err := xml.Unmarshal(content, &rss); err == nil && len(rss.Channel.Items) > 0 {
		items := make([]FeedItem, 0, len(rss.Channel.Items))
		for _, it := range rss.Channel.Items {
			items = append(items, FeedItem{
				Title:       it.Title,
				Description: it.Description,
				Link:        it.Link,
				Published:   it.PubDate,
				GUID:        it.GUID,
			})
		}
		return items, nil
	}

	var atom atomFeed
	if err := xml.Unmarshal(content, &atom); err != nil {
		return nil, err
	}
	items := make([]FeedItem, 0, len(atom.Entries))
	for _, e := range atom.Entries {
		link := ""
		for _, l := range e.Links {
			if l.Rel == "" || l.Rel == "alternate" {
				link = l.Href
				break
			}
		}
		items = append(items, FeedItem{
			Title:       e.Title,
			Description: e.Summary,
			Link:        link,
			Published:   e.Updated,
			GUID:        e.ID,
		})
	}
	return items, nil
}
