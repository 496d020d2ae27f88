package models

import (
	"time"

	"github.com/google/uuid"
)

// ListingStub is one row of an index page, before enrichment
type ListingStub struct {
	Title *string `json:"title"`
	Link  *string `json:"link"`
	Price *string `json:"price"` // whitespace stripped
}

// ListingDetails holds the detail-page attributes of a listing. Any field may be absent.
type ListingDetails struct {
	Mileage    *int64     `json:"mileage" validate:"omitempty,gte=0"`
	PostedAt   *time.Time `json:"posted_at"`
	ImageURL   *string    `json:"image_url" validate:"omitempty,url"`
	ExternalID *int64     `json:"external_id" validate:"omitempty,gte=0"`
}

// VehicleSpec is a shared, content-addressed vehicle description. Rows are
// created once and only ever referenced afterwards.
type VehicleSpec struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	Fingerprint        string    `json:"fingerprint" db:"fingerprint"`
	Year               int       `json:"year" db:"year" validate:"gte=0"`
	FuelType           string    `json:"fuel_type" db:"fuel_type"`
	Transmission       string    `json:"transmission" db:"transmission"`
	EngineDisplacement int       `json:"engine_displacement" db:"engine_displacement" validate:"gte=0"`
	Power              int       `json:"power" db:"power" validate:"gte=0"`
	Make               string    `json:"make" db:"make"`
	Model              string    `json:"model" db:"model"`
	Trim               string    `json:"trim" db:"trim"`
	ModelYear          int       `json:"model_year" db:"model_year" validate:"gte=0"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// SpecKey is the dedup identity of a VehicleSpec. Fuel type, transmission,
// power and trim are deliberately not part of it.
type SpecKey struct {
	Make               string
	Model              string
	Year               int
	EngineDisplacement int
}

func (s *VehicleSpec) Key() SpecKey {
	return SpecKey{
		Make:               s.Make,
		Model:              s.Model,
		Year:               s.Year,
		EngineDisplacement: s.EngineDisplacement,
	}
}

// ScrapedListing is a stub plus whatever enrichment succeeded. Details and
// Spec are nil when the detail page could not be read.
type ScrapedListing struct {
	ListingStub
	Details *ListingDetails `json:"details,omitempty"`
	Spec    *VehicleSpec    `json:"car,omitempty"`
}

// Listing is the persisted record of one listing within a source
type Listing struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	SourceID        string     `json:"source_id" db:"source_id"`
	Link            string     `json:"link" db:"link"`
	Title           string     `json:"title" db:"title"`
	Price           string     `json:"price" db:"price"`
	OldPrice        *string    `json:"old_price" db:"old_price"`
	PriceChangedAt  *time.Time `json:"price_changed_at" db:"price_changed_at"`
	IsSold          bool       `json:"is_sold" db:"is_sold"`
	IsSoldChangedAt *time.Time `json:"is_sold_changed_at" db:"is_sold_changed_at"`
	VehicleSpecID   uuid.UUID  `json:"vehicle_spec_id" db:"vehicle_spec_id"`
	Mileage         *int64     `json:"mileage" db:"mileage"`
	PostedAt        *time.Time `json:"posted_at" db:"posted_at"`
	ImageURL        *string    `json:"image_url" db:"image_url"`
	ImageKey        *string    `json:"image_key" db:"image_key"` // object key of the mirrored image
	ImageFailures   int        `json:"image_failures" db:"image_failures"`
	ExternalID      *int64     `json:"external_id" db:"external_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// ListingPatch is a partial update. Nil fields are left untouched.
type ListingPatch struct {
	Price           *string
	OldPrice        *string
	PriceChangedAt  *time.Time
	Mileage         *int64
	IsSold          *bool
	IsSoldChangedAt *time.Time
}

func (p ListingPatch) IsEmpty() bool {
	return p.Price == nil && p.OldPrice == nil && p.PriceChangedAt == nil &&
		p.Mileage == nil && p.IsSold == nil && p.IsSoldChangedAt == nil
}

// Apply copies the set fields of p onto l
func (p ListingPatch) Apply(l *Listing) {
	if p.Price != nil {
		l.Price = *p.Price
	}
	if p.OldPrice != nil {
		v := *p.OldPrice
		l.OldPrice = &v
	}
	if p.PriceChangedAt != nil {
		t := *p.PriceChangedAt
		l.PriceChangedAt = &t
	}
	if p.Mileage != nil {
		m := *p.Mileage
		l.Mileage = &m
	}
	if p.IsSold != nil {
		l.IsSold = *p.IsSold
	}
	if p.IsSoldChangedAt != nil {
		t := *p.IsSoldChangedAt
		l.IsSoldChangedAt = &t
	}
}

// Source is one crawled site/company
type Source struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	StartURL string `json:"url"`
}
