package scraper

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"

	"car_scrooper/config"
	"car_scrooper/identity"
	"car_scrooper/models"
)

var (
	dateSplitRegex = regexp.MustCompile(`[.\s]+`)
	validate       = validator.New()
)

// DetailExtractor enriches a listing from its detail page
type DetailExtractor struct {
	site  *config.SiteConfig
	retry RetryPolicy
	loc   *time.Location
}

func NewDetailExtractor(site *config.SiteConfig, retry RetryPolicy) *DetailExtractor {
	loc, err := time.LoadLocation(site.TimeZone)
	if err != nil {
		log.Printf("Warning: unknown time zone %q, using UTC: %v", site.TimeZone, err)
		loc = time.UTC
	}
	return &DetailExtractor{site: site, retry: retry, loc: loc}
}

// Extract renders link in its own page of session and reads the listing and
// vehicle attributes. The page is closed before returning.
func (e *DetailExtractor) Extract(ctx context.Context, session Session, link string) (*models.ListingDetails, *models.VehicleSpec, error) {
	page, err := session.NewPage(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer page.Close()

	err = e.retry.Do(ctx, func() error {
		return page.Goto(ctx, link, GotoOptions{Timeout: e.site.PageTimeout, NetworkIdle: true})
	})
	if err != nil {
		return nil, nil, err
	}

	// Detail content is rendered asynchronously; the gallery image is the last thing to appear.
	if err := page.WaitFor(ctx, e.site.Selectors.Image, WaitOptions{Visible: true, Timeout: e.site.WaitTimeout}); err != nil {
		return nil, nil, err
	}

	doc, err := page.Document(ctx)
	if err != nil {
		return nil, nil, err
	}

	details, spec := ParseDetails(doc, e.site, e.loc)
	if err := ValidateScraped(details, spec); err != nil {
		return nil, nil, err
	}
	return details, spec, nil
}

// ParseDetails reads a rendered detail page. Missing attributes degrade to
// nil (listing details) or zero values (vehicle spec); it never fails.
func ParseDetails(doc *goquery.Document, site *config.SiteConfig, loc *time.Location) (*models.ListingDetails, *models.VehicleSpec) {
	sel := site.Selectors
	listingAttrs := parseDefinitionList(doc, sel.ListingDetails)
	vehicleAttrs := parseDefinitionList(doc, sel.VehicleDetails)

	details := &models.ListingDetails{}

	if raw, ok := lookup(listingAttrs, site.Labels.Listing.Mileage); ok {
		mileage := parseNumber(raw)
		details.Mileage = &mileage
	}

	if idText := strings.TrimSpace(doc.Find(sel.ListingID).First().Text()); idText != "" {
		if id := parseNumber(idText); id > 0 {
			details.ExternalID = &id
		}
	}

	if src, ok := doc.Find(sel.Image).First().Attr("src"); ok {
		if imageURL := resolveLink(doc.Url, src); imageURL != "" {
			details.ImageURL = &imageURL
		}
	}

	if raw := findPostedDate(doc, sel.PostedDate, site.Labels.Listing.Posted); raw != "" {
		if posted, ok := ParsePostedDate(raw, site.DateConnector, site.Months, loc); ok {
			details.PostedAt = &posted
		} else {
			log.Printf("Warning: could not parse posted date %q", raw)
		}
	}

	vl := site.Labels.Vehicle
	spec := &models.VehicleSpec{
		Year:               int(numberAttr(vehicleAttrs, vl.Year)),
		FuelType:           textAttr(vehicleAttrs, vl.FuelType),
		Transmission:       textAttr(vehicleAttrs, vl.Transmission),
		EngineDisplacement: int(numberAttr(vehicleAttrs, vl.EngineDisplacement)),
		Power:              int(numberAttr(vehicleAttrs, vl.Power)),
		Make:               textAttr(vehicleAttrs, vl.Make),
		Model:              textAttr(vehicleAttrs, vl.Model),
		Trim:               textAttr(vehicleAttrs, vl.Trim),
		ModelYear:          int(numberAttr(vehicleAttrs, vl.ModelYear)),
	}

	return details, spec
}

// ValidateScraped checks the shape of parsed output, not business rules
func ValidateScraped(details *models.ListingDetails, spec *models.VehicleSpec) error {
	if details == nil || spec == nil {
		return fmt.Errorf("%w: missing details or vehicle spec", ErrValidation)
	}
	if err := validate.Struct(details); err != nil {
		return fmt.Errorf("%w: listing details: %v", ErrValidation, err)
	}
	if err := validate.Struct(spec); err != nil {
		return fmt.Errorf("%w: vehicle spec: %v", ErrValidation, err)
	}
	return nil
}

// parseDefinitionList maps each dt matched by selector to the text of the element after it
func parseDefinitionList(doc *goquery.Document, selector string) map[string]string {
	attrs := make(map[string]string)
	doc.Find(selector).Each(func(i int, dt *goquery.Selection) {
		term := identity.NormalizeLabel(dt.Text())
		definition := identity.NormalizeLabel(dt.Next().Text())
		if term != "" && definition != "" {
			attrs[strings.TrimSuffix(term, ":")] = definition
		}
	})
	return attrs
}

func lookup(attrs map[string]string, label string) (string, bool) {
	v, ok := attrs[strings.TrimSuffix(identity.NormalizeLabel(label), ":")]
	return v, ok
}

func textAttr(attrs map[string]string, label string) string {
	v, _ := lookup(attrs, label)
	return v
}

func numberAttr(attrs map[string]string, label string) int64 {
	v, _ := lookup(attrs, label)
	return parseNumber(v)
}

// parseNumber keeps the ASCII digits of s. Anything unparseable is 0.
func parseNumber(s string) int64 {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	n, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func findPostedDate(doc *goquery.Document, selector, label string) string {
	want := strings.TrimSuffix(identity.NormalizeLabel(label), ":")
	var value string
	doc.Find(selector).EachWithBreak(func(i int, dt *goquery.Selection) bool {
		term := strings.TrimSuffix(identity.NormalizeLabel(dt.Text()), ":")
		if term != want {
			return true
		}
		value = identity.NormalizeLabel(dt.Next().Text())
		return false
	})
	return value
}

// ParsePostedDate reads "DD. MONTH YYYY u HH:MM" where MONTH is a number or a
// name from months. Words before the day (a "Posted:" prefix) are skipped and
// a missing time means midnight.
func ParsePostedDate(text, connector string, months map[string]int, loc *time.Location) (time.Time, bool) {
	fold := cases.Fold()
	connector = fold.String(connector)

	var tokens []string
	for _, tok := range dateSplitRegex.Split(strings.TrimSpace(text), -1) {
		if tok == "" || fold.String(tok) == connector {
			continue
		}
		tokens = append(tokens, tok)
	}

	start := -1
	for i, tok := range tokens {
		if isDigits(tok) {
			start = i
			break
		}
	}
	if start < 0 || len(tokens)-start < 3 {
		return time.Time{}, false
	}
	tokens = tokens[start:]

	day, _ := strconv.Atoi(tokens[0])
	month, ok := parseMonth(tokens[1], months)
	if !ok {
		return time.Time{}, false
	}
	if !isDigits(tokens[2]) {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(tokens[2])

	hour, minute := 0, 0
	if len(tokens) > 3 {
		clock, err := time.Parse("15:04", tokens[3])
		if err != nil {
			return time.Time{}, false
		}
		hour, minute = clock.Hour(), clock.Minute()
	}

	if loc == nil {
		loc = time.UTC
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

func parseMonth(tok string, months map[string]int) (int, bool) {
	if isDigits(tok) {
		m, _ := strconv.Atoi(tok)
		return m, m >= 1 && m <= 12
	}
	fold := cases.Fold()
	want := fold.String(identity.NormalizeLabel(tok))
	for name, m := range months {
		if fold.String(identity.NormalizeLabel(name)) == want {
			return m, m >= 1 && m <= 12
		}
	}
	return 0, false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
