package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	RendererPlaywright = "playwright"
	RendererHTTP       = "http"
)

// SiteConfig describes one crawled source. Everything that couples the
// crawler to a particular site's markup lives here.
type SiteConfig struct {
	ID                string         `yaml:"id"`
	Name              string         `yaml:"name"`
	StartURL          string         `yaml:"start_url"`
	Renderer          string         `yaml:"renderer"`
	PageTimeout       time.Duration  `yaml:"page_timeout"`
	WaitTimeout       time.Duration  `yaml:"wait_timeout"`
	DetailConcurrency int            `yaml:"detail_concurrency"`
	MaxPages          int            `yaml:"max_pages"`
	TimeZone          string         `yaml:"time_zone"`
	DateConnector     string         `yaml:"date_connector"`
	Retry             RetryConfig    `yaml:"retry"`
	Selectors         Selectors      `yaml:"selectors"`
	Labels            Labels         `yaml:"labels"`
	Months            map[string]int `yaml:"months"`
}

type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
	RetryOn         []string      `yaml:"retry_on"` // navigation, transient_status, selector_missing
}

type Selectors struct {
	ListingRow     string `yaml:"listing_row"`
	Title          string `yaml:"title"`
	Price          string `yaml:"price"`
	NextPage       string `yaml:"next_page"`
	ListingDetails string `yaml:"listing_details"`
	VehicleDetails string `yaml:"vehicle_details"`
	PostedDate     string `yaml:"posted_date"`
	ListingID      string `yaml:"listing_id"`
	Image          string `yaml:"image"`
}

type Labels struct {
	Listing ListingLabels `yaml:"listing"`
	Vehicle VehicleLabels `yaml:"vehicle"`
}

type ListingLabels struct {
	Mileage string `yaml:"mileage"`
	Posted  string `yaml:"posted"`
}

type VehicleLabels struct {
	Year               string `yaml:"year"`
	FuelType           string `yaml:"fuel_type"`
	Transmission       string `yaml:"transmission"`
	EngineDisplacement string `yaml:"engine_displacement"`
	Power              string `yaml:"power"`
	Make               string `yaml:"make"`
	Model              string `yaml:"model"`
	Trim               string `yaml:"trim"`
	ModelYear          string `yaml:"model_year"`
}

// LoadSiteConfig reads one site file and fills in defaults for anything it omits
func LoadSiteConfig(path string) (*SiteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var site SiteConfig
	if err := yaml.Unmarshal(data, &site); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if site.ID == "" {
		return nil, fmt.Errorf("parse %s: missing id", path)
	}

	site.ApplyDefaults()
	return &site, nil
}

// ApplyDefaults fills unset fields with the Njuskalo layout
func (s *SiteConfig) ApplyDefaults() {
	if s.Name == "" {
		s.Name = s.ID
	}
	if s.Renderer == "" {
		s.Renderer = RendererPlaywright
	}
	if s.PageTimeout == 0 {
		s.PageTimeout = 60 * time.Second
	}
	if s.WaitTimeout == 0 {
		s.WaitTimeout = 30 * time.Second
	}
	if s.TimeZone == "" {
		s.TimeZone = "Europe/Zagreb"
	}
	if s.DateConnector == "" {
		s.DateConnector = "u"
	}

	r := &s.Retry
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 3
	}
	if r.InitialInterval == 0 {
		r.InitialInterval = time.Second
	}
	if r.MaxInterval == 0 {
		r.MaxInterval = 10 * time.Second
	}
	if r.Multiplier == 0 {
		r.Multiplier = 2
	}
	if r.RetryOn == nil {
		r.RetryOn = []string{"navigation", "transient_status"}
	}

	sel := &s.Selectors
	setDefault(&sel.ListingRow, "li.EntityList-item")
	setDefault(&sel.Title, ".entity-title a")
	setDefault(&sel.Price, ".price--hrk")
	setDefault(&sel.NextPage, "li.Pagination-item--next a")
	setDefault(&sel.ListingDetails, "dl.ClassifiedDetailBasicDetails-list dt")
	setDefault(&sel.VehicleDetails, "dl.ClassifiedDetailBasicDetails-list dt")
	setDefault(&sel.PostedDate, "dl.ClassifiedDetailSystemDetails-list dt")
	setDefault(&sel.ListingID, ".ClassifiedDetailSummary-adCode")
	setDefault(&sel.Image, "div.ClassifiedDetailGallery-slide img.ClassifiedDetailGallery-slideImage")

	ll := &s.Labels.Listing
	setDefault(&ll.Mileage, "Prijeđeni kilometri")
	setDefault(&ll.Posted, "Oglas objavljen")

	vl := &s.Labels.Vehicle
	setDefault(&vl.Year, "Godina proizvodnje")
	setDefault(&vl.FuelType, "Motor")
	setDefault(&vl.Transmission, "Mjenjač")
	setDefault(&vl.EngineDisplacement, "Radni obujam")
	setDefault(&vl.Power, "Snaga motora")
	setDefault(&vl.Make, "Marka automobila")
	setDefault(&vl.Model, "Model automobila")
	setDefault(&vl.Trim, "Tip automobila")
	setDefault(&vl.ModelYear, "Godina modela")

	if len(s.Months) == 0 {
		s.Months = croatianMonths()
	}
}

func setDefault(field *string, val string) {
	if *field == "" {
		*field = val
	}
}

func croatianMonths() map[string]int {
	return map[string]int{
		"siječanj": 1, "siječnja": 1,
		"veljača": 2, "veljače": 2,
		"ožujak": 3, "ožujka": 3,
		"travanj": 4, "travnja": 4,
		"svibanj": 5, "svibnja": 5,
		"lipanj": 6, "lipnja": 6,
		"srpanj": 7, "srpnja": 7,
		"kolovoz": 8, "kolovoza": 8,
		"rujan": 9, "rujna": 9,
		"listopad": 10, "listopada": 10,
		"studeni": 11, "studenoga": 11, "studenog": 11,
		"prosinac": 12, "prosinca": 12,
	}
}
