// Package favarch holds the site-coupled parts of the archiver: the page
// layout knowledge that turns raw gallery markup into structured records.
// Everything here is a pure function of the markup; missing optional fields
// produce empty values, never errors.
package favarch

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrNoDownloadLink is returned when a detail page carries no usable
	// download affordance.
	ErrNoDownloadLink = errors.New("download link not found on detail page")

	viewPathRe = regexp.MustCompile(`/view/(\d+)`)
)

// submissionData is the inline metadata blob some listing pages embed,
// keyed by submission identifier.
type submissionData struct {
	Title       string `json:"title"`
	Lower       string `json:"lower"`
	Username    string `json:"username"`
	Description string `json:"description"`
}

// ExtractListing parses a favorites listing page into its submissions and
// the path of the next page. Fields absent from the markup stay empty.
func ExtractListing(markup string) (*Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing page: %w", err)
	}

	inline := extractInlineData(doc)
	listing := &Listing{}

	doc.Find("figure").Each(func(_ int, fig *goquery.Selection) {
		rawID, _ := fig.Attr("id")
		idStr := strings.TrimPrefix(rawID, "sid-")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id <= 0 {
			return
		}

		sub := Submission{ID: id}
		if d, ok := inline[idStr]; ok {
			// The inline blob is JSON with HTML-entity payloads.
			sub.Title = html.UnescapeString(strings.TrimSpace(d.Title))
			sub.User = html.UnescapeString(strings.TrimSpace(d.Lower))
			sub.DisplayName = html.UnescapeString(strings.TrimSpace(d.Username))
			sub.Description = html.UnescapeString(strings.TrimSpace(d.Description))
		}

		// Rating comes from the figure's r-* class.
		if cls, ok := fig.Attr("class"); ok {
			for _, c := range strings.Fields(cls) {
				if strings.HasPrefix(c, "r-") {
					sub.Rating = strings.TrimPrefix(c, "r-")
					break
				}
			}
		}

		if img := fig.Find("img").First(); img.Length() > 0 {
			sub.ThumbnailURL, _ = img.Attr("src")
			if tags, ok := img.Attr("data-tags"); ok {
				sub.Tags = strings.Fields(tags)
			}
		}

		// The caption fills whatever the inline blob did not.
		if caption := fig.Find("figcaption").First(); caption.Length() > 0 {
			if sub.Title == "" {
				sub.Title = strings.TrimSpace(caption.Find("a[title]").First().Text())
			}
			caption.Find("i").EachWithBreak(func(_ int, i *goquery.Selection) bool {
				if strings.TrimSpace(i.Text()) != "by" {
					return true
				}
				userAnchor := i.NextFiltered("a[href]")
				if userAnchor.Length() == 0 {
					return false
				}
				if sub.User == "" {
					href, _ := userAnchor.Attr("href")
					parts := strings.Split(strings.Trim(href, "/"), "/")
					sub.User = parts[len(parts)-1]
				}
				if sub.DisplayName == "" {
					sub.DisplayName = strings.TrimSpace(userAnchor.Text())
				}
				return false
			})
		}

		listing.Submissions = append(listing.Submissions, sub)
	})

	listing.NextPath = nextPagePath(doc)
	return listing, nil
}

// extractInlineData reads the embedded submission metadata JSON, returning
// an empty map when the page does not carry the blob.
func extractInlineData(doc *goquery.Document) map[string]submissionData {
	data := map[string]submissionData{}
	script := doc.Find(`script#js-submissionData[type="application/json"]`).First()
	if script.Length() == 0 {
		return data
	}
	_ = json.Unmarshal([]byte(script.Text()), &data)
	return data
}

// nextPagePath locates the "Next" control and returns its form action.
func nextPagePath(doc *goquery.Document) string {
	var path string
	doc.Find("button").EachWithBreak(func(_ int, b *goquery.Selection) bool {
		if strings.TrimSpace(b.Text()) != "Next" {
			return true
		}
		if form := b.Closest("form"); form.Length() > 0 {
			path, _ = form.Attr("action")
		}
		return false
	})
	return path
}

// ExtractDownloadURL locates the download affordance in the submission
// actions region of a detail page and returns its absolute URL.
// Protocol-relative hrefs are normalized to https. ErrNoDownloadLink is
// returned when the region or the link is missing.
func ExtractDownloadURL(markup string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("failed to parse detail page: %w", err)
	}

	container := doc.Find("div.aligncenter.auto_link.hideonfull1.favorite-nav").First()
	if container.Length() == 0 {
		return "", ErrNoDownloadLink
	}

	var href string
	container.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if strings.TrimSpace(a.Text()) != "Download" {
			return true
		}
		href, _ = a.Attr("href")
		return false
	})
	if href == "" {
		return "", ErrNoDownloadLink
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	return href, nil
}

// ExtractCanonicalID reads the submission identifier from a detail page's
// canonical URL meta tag. Used when adopting manually saved pages.
func ExtractCanonicalID(markup string) (int64, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return 0, fmt.Errorf("failed to parse page: %w", err)
	}
	url, ok := doc.Find(`meta[property="og:url"]`).First().Attr("content")
	if !ok {
		return 0, errors.New("page has no canonical URL")
	}
	m := viewPathRe.FindStringSubmatch(url)
	if m == nil {
		return 0, fmt.Errorf("canonical URL %q carries no submission id", url)
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid submission id in %q: %w", url, err)
	}
	return id, nil
}
