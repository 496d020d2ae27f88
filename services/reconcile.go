package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"car_scrooper/identity"
	"car_scrooper/models"
)

// ErrMissingSpec means a new listing arrived without vehicle data, so it
// cannot reference a VehicleSpec and cannot be created.
var ErrMissingSpec = errors.New("listing has no vehicle spec")

// Gateway is the durable store the reconciler reads prior state from and
// writes operations to. Lookups return nil, nil when nothing matches.
type Gateway interface {
	FindListingsBySource(ctx context.Context, sourceID string) ([]models.Listing, error)
	CreateListing(ctx context.Context, l *models.Listing) (*models.Listing, error)
	UpdateListing(ctx context.Context, id uuid.UUID, patch models.ListingPatch) error
	FindSpecByKey(ctx context.Context, key models.SpecKey) (*models.VehicleSpec, error)
	CreateSpec(ctx context.Context, spec *models.VehicleSpec) (*models.VehicleSpec, error)
}

// CreatePolicy decides what a failed create does to the rest of the batch
type CreatePolicy string

const (
	CreatePolicySkip  CreatePolicy = "skip"
	CreatePolicyAbort CreatePolicy = "abort"
)

func ParseCreatePolicy(s string) (CreatePolicy, error) {
	switch CreatePolicy(s) {
	case "", CreatePolicySkip:
		return CreatePolicySkip, nil
	case CreatePolicyAbort:
		return CreatePolicyAbort, nil
	}
	return "", fmt.Errorf("unknown create policy %q (want skip or abort)", s)
}

type OpKind string

const (
	OpCreate   OpKind = "create"
	OpUpdate   OpKind = "update"
	OpMarkSold OpKind = "mark_sold"
	OpNoChange OpKind = "no_change"
)

type ChangeKind string

const (
	ChangePrice  ChangeKind = "price_change"
	ChangeDetail ChangeKind = "detail_change"
)

// Change is one field-level difference between a stored listing and its fresh sighting
type Change struct {
	Kind ChangeKind
	// PriceChange
	OldPrice string
	NewPrice string
	// DetailChange
	OldMileage *int64
	NewMileage *int64
}

// Operation is one planned write. Scraped is set for create, update and
// no-change; Prior for update, mark-sold and no-change.
type Operation struct {
	Kind    OpKind
	Link    string
	Scraped *models.ScrapedListing
	Prior   *models.Listing
	Changes []Change
	Patch   models.ListingPatch
	// Reappeared marks a sold listing seen again. It stays sold.
	Reappeared bool
}

// Plan diffs a fresh crawl batch against the stored listings of the same
// source. It performs no I/O. Operations follow batch order, with mark-sold
// operations last. Batch entries without a link are ignored and repeated
// links only count once.
func Plan(prior []models.Listing, batch []models.ScrapedListing, now time.Time) []Operation {
	byLink := make(map[string]*models.Listing, len(prior))
	for i := range prior {
		byLink[prior[i].Link] = &prior[i]
	}

	seen := make(map[string]bool, len(batch))
	var ops []Operation

	for i := range batch {
		scraped := &batch[i]
		if scraped.Link == nil || *scraped.Link == "" {
			continue
		}
		link := *scraped.Link
		if seen[link] {
			continue
		}
		seen[link] = true

		existing, ok := byLink[link]
		if !ok {
			ops = append(ops, Operation{Kind: OpCreate, Link: link, Scraped: scraped})
			continue
		}
		ops = append(ops, planUpdate(existing, scraped, now))
	}

	for i := range prior {
		p := &prior[i]
		if seen[p.Link] || p.IsSold {
			continue
		}
		sold := true
		stamp := now
		ops = append(ops, Operation{
			Kind:  OpMarkSold,
			Link:  p.Link,
			Prior: p,
			Patch: models.ListingPatch{IsSold: &sold, IsSoldChangedAt: &stamp},
		})
	}

	return ops
}

func planUpdate(existing *models.Listing, scraped *models.ScrapedListing, now time.Time) Operation {
	op := Operation{
		Kind:       OpNoChange,
		Link:       existing.Link,
		Scraped:    scraped,
		Prior:      existing,
		Reappeared: existing.IsSold,
	}

	if scraped.Price != nil {
		newPrice := identity.NormalizePrice(*scraped.Price)
		if !identity.PriceEqual(existing.Price, newPrice) {
			oldPrice := existing.Price
			stamp := now
			op.Changes = append(op.Changes, Change{Kind: ChangePrice, OldPrice: oldPrice, NewPrice: newPrice})
			op.Patch.Price = &newPrice
			op.Patch.OldPrice = &oldPrice
			op.Patch.PriceChangedAt = &stamp
		}
	}

	if scraped.Details != nil && scraped.Details.Mileage != nil {
		newMileage := *scraped.Details.Mileage
		if existing.Mileage == nil || *existing.Mileage != newMileage {
			op.Changes = append(op.Changes, Change{Kind: ChangeDetail, OldMileage: existing.Mileage, NewMileage: &newMileage})
			op.Patch.Mileage = &newMileage
		}
	}

	if len(op.Changes) > 0 {
		op.Kind = OpUpdate
	}
	return op
}

// ReconcileStats counts what one reconciliation did
type ReconcileStats struct {
	Seen           int `json:"seen"`
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	PriceChanges   int `json:"price_changes"`
	Unchanged      int `json:"unchanged"`
	MarkedSold     int `json:"marked_sold"`
	Reappeared     int `json:"reappeared"`
	SpecsCreated   int `json:"specs_created"`
	CreateFailures int `json:"create_failures"`
	UpdateFailures int `json:"update_failures"`
}

func (s *ReconcileStats) Errors() int {
	return s.CreateFailures + s.UpdateFailures
}

// Reconciler applies planned operations to a Gateway, one record at a time.
// Re-running it with the same batch writes nothing new.
type Reconciler struct {
	gw     Gateway
	policy CreatePolicy
	now    func() time.Time
}

func NewReconciler(gw Gateway, policy CreatePolicy) *Reconciler {
	if policy == "" {
		policy = CreatePolicySkip
	}
	return &Reconciler{gw: gw, policy: policy, now: time.Now}
}

// Reconcile merges batch into the stored listings of sourceID. The batch must
// be the complete result of a crawl: any stored listing missing from it is
// marked sold.
func (r *Reconciler) Reconcile(ctx context.Context, sourceID string, batch []models.ScrapedListing) (*ReconcileStats, error) {
	prior, err := r.gw.FindListingsBySource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("load listings for %s: %w", sourceID, err)
	}

	stats := &ReconcileStats{}
	now := r.now()

	for _, op := range Plan(prior, batch, now) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		switch op.Kind {
		case OpCreate:
			stats.Seen++
			specCreated, err := r.create(ctx, sourceID, op.Scraped, now)
			if err != nil {
				stats.CreateFailures++
				if r.policy == CreatePolicyAbort {
					return stats, fmt.Errorf("create %s: %w", op.Link, err)
				}
				log.Printf("Warning: skipping new listing %s: %v", op.Link, err)
				continue
			}
			stats.Created++
			if specCreated {
				stats.SpecsCreated++
			}

		case OpUpdate:
			stats.Seen++
			r.noteReappeared(op, stats)
			if err := r.gw.UpdateListing(ctx, op.Prior.ID, op.Patch); err != nil {
				stats.UpdateFailures++
				log.Printf("Warning: failed to update listing %s: %v", op.Link, err)
				continue
			}
			stats.Updated++
			for _, c := range op.Changes {
				if c.Kind == ChangePrice {
					stats.PriceChanges++
				}
			}

		case OpNoChange:
			stats.Seen++
			r.noteReappeared(op, stats)
			stats.Unchanged++

		case OpMarkSold:
			if err := r.gw.UpdateListing(ctx, op.Prior.ID, op.Patch); err != nil {
				stats.UpdateFailures++
				log.Printf("Warning: failed to mark listing %s sold: %v", op.Link, err)
				continue
			}
			stats.MarkedSold++
		}
	}

	return stats, nil
}

func (r *Reconciler) noteReappeared(op Operation, stats *ReconcileStats) {
	if !op.Reappeared {
		return
	}
	stats.Reappeared++
	log.Printf("Warning: sold listing %s reappeared, keeping it sold", op.Link)
}

// create resolves the vehicle spec then inserts the listing. It reports
// whether a new spec row was written.
func (r *Reconciler) create(ctx context.Context, sourceID string, scraped *models.ScrapedListing, now time.Time) (bool, error) {
	if scraped.Spec == nil {
		return false, ErrMissingSpec
	}

	spec, created, err := r.resolveSpec(ctx, scraped.Spec, now)
	if err != nil {
		return false, err
	}

	listing := &models.Listing{
		ID:            uuid.New(),
		SourceID:      sourceID,
		Link:          *scraped.Link,
		Title:         deref(scraped.Title),
		Price:         identity.NormalizePrice(deref(scraped.Price)),
		VehicleSpecID: spec.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if d := scraped.Details; d != nil {
		listing.Mileage = d.Mileage
		listing.PostedAt = d.PostedAt
		listing.ImageURL = d.ImageURL
		listing.ExternalID = d.ExternalID
	}

	if _, err := r.gw.CreateListing(ctx, listing); err != nil {
		return created, fmt.Errorf("create listing: %w", err)
	}
	return created, nil
}

// resolveSpec returns the stored spec sharing spec's identity key, creating
// it on first sighting.
func (r *Reconciler) resolveSpec(ctx context.Context, spec *models.VehicleSpec, now time.Time) (*models.VehicleSpec, bool, error) {
	key := spec.Key()

	existing, err := r.gw.FindSpecByKey(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("find spec: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	fresh := *spec
	fresh.ID = uuid.New()
	fresh.Fingerprint = identity.SpecFingerprint(key)
	fresh.CreatedAt = now

	stored, err := r.gw.CreateSpec(ctx, &fresh)
	if err != nil {
		return nil, false, fmt.Errorf("create spec: %w", err)
	}
	return stored, true, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
