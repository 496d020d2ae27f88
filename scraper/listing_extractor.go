package scraper

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"car_scrooper/config"
	"car_scrooper/identity"
	"car_scrooper/models"
)

// ExtractListings reads the listing rows of one index page. Rows without a
// link are dropped, since they can never be matched to a stored listing.
// Links resolve against the document's final URL when it is known.
func ExtractListings(doc *goquery.Document, pageURL string, sel config.Selectors) []models.ListingStub {
	base, _ := documentBase(doc, pageURL)

	var stubs []models.ListingStub
	doc.Find(sel.ListingRow).Each(func(i int, row *goquery.Selection) {
		var stub models.ListingStub

		if titleEl := row.Find(sel.Title).First(); titleEl.Length() > 0 {
			title := strings.TrimSpace(titleEl.Text())
			stub.Title = &title

			if href, ok := titleEl.Attr("href"); ok {
				if link := resolveLink(base, href); link != "" {
					stub.Link = &link
				}
			}
		}

		if priceEl := row.Find(sel.Price).First(); priceEl.Length() > 0 {
			price := identity.NormalizePrice(priceEl.Text())
			stub.Price = &price
		}

		if stub.Link == nil {
			return
		}
		stubs = append(stubs, stub)
	})

	return stubs
}

// FindNextPageLink resolves the "next page" anchor against the page URL the
// document was loaded from, falling back to currentURL. It reports false when
// there is no anchor or the anchor points back at the page itself.
func FindNextPageLink(doc *goquery.Document, currentURL string, sel config.Selectors) (string, bool) {
	href, ok := doc.Find(sel.NextPage).First().Attr("href")
	if !ok {
		return "", false
	}

	base, err := documentBase(doc, currentURL)
	if err != nil {
		return "", false
	}

	next := resolveLink(base, href)
	if next == "" || next == base.String() {
		return "", false
	}
	return next, true
}

// documentBase is the URL the document was actually served from. Renderers
// set doc.Url after redirects.
func documentBase(doc *goquery.Document, fallback string) (*url.URL, error) {
	if doc.Url != nil {
		return doc.Url, nil
	}
	return url.Parse(fallback)
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
