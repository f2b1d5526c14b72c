package feed

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/paperlens/paperlens/internal/paper"
)

var (
	arxivIDPattern   = regexp.MustCompile(`(\d{4}\.\d{4,5})`)
	datePattern      = regexp.MustCompile(`/papers/date/(\d{4}-\d{2}-\d{2})`)
	authorsPattern   = regexp.MustCompile(`(\d+)\s+authors?`)
	submitterPattern = regexp.MustCompile(`Submitted\s+by\s+(\S+)`)
)

// dateFromURL extracts the served day from a daily-papers URL, or "" when the
// URL does not carry one.
func dateFromURL(rawURL string) string {
	m := datePattern.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// parseCards extracts the paper cards from a daily-papers HTML page. Cards
// without a recognizable arXiv id keep an empty ArxivID and are still served,
// matching what the site shows.
func parseCards(body []byte) ([]paper.Summary, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed html: %w", err)
	}

	var cards []paper.Summary
	doc.Find("article").Each(func(_ int, card *goquery.Selection) {
		link := card.Find("h3 a").First()
		title := strings.Join(strings.Fields(link.Text()), " ")
		if title == "" {
			title = strings.Join(strings.Fields(card.Find("h3").First().Text()), " ")
		}
		if title == "" {
			return
		}

		sum := paper.Summary{Title: title}
		if href, ok := link.Attr("href"); ok {
			if m := arxivIDPattern.FindStringSubmatch(href); m != nil {
				sum.ArxivID = m[1]
			}
			sum.HuggingFaceURL = absoluteURL(href)
		}

		sum.Upvotes = firstInt(card.Find("div.leading-none").First().Text())

		text := card.Text()
		if m := authorsPattern.FindStringSubmatch(text); m != nil {
			sum.AuthorCount, _ = strconv.Atoi(m[1])
		}
		if m := submitterPattern.FindStringSubmatch(text); m != nil {
			sum.Submitter = m[1]
		}
		sum.Comments = firstInt(card.Find(`a[href$="#community"]`).First().Text())

		cards = append(cards, sum)
	})
	return cards, nil
}

func absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return "https://huggingface.co" + href
}

// firstInt pulls the first decimal number out of a text blob; vote widgets
// render counts alongside icons and whitespace.
func firstInt(text string) int {
	for _, field := range strings.Fields(text) {
		if n, err := strconv.Atoi(field); err == nil {
			return n
		}
	}
	return 0
}
