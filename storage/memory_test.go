package storage

import (
	"context"
	"testing"
	"time"

	"car_scrooper/models"
)

func TestMemoryStore_SpecsDedupByKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, err := store.CreateSpec(ctx, &models.VehicleSpec{Make: "Volkswagen", Model: "Golf", Year: 2018, EngineDisplacement: 1598, FuelType: "Diesel"})
	if err != nil {
		t.Fatalf("create spec: %v", err)
	}
	second, err := store.CreateSpec(ctx, &models.VehicleSpec{Make: "Volkswagen", Model: "Golf", Year: 2018, EngineDisplacement: 1598, FuelType: "Benzin"})
	if err != nil {
		t.Fatalf("create spec: %v", err)
	}
	if first.ID != second.ID || store.SpecCount() != 1 {
		t.Fatalf("expected one shared spec, got %s and %s (%d stored)", first.ID, second.ID, store.SpecCount())
	}
	if second.FuelType != "Diesel" {
		t.Fatal("existing spec must not be overwritten")
	}

	found, err := store.FindSpecByKey(ctx, models.SpecKey{Make: "Volkswagen", Model: "Golf", Year: 2018, EngineDisplacement: 1598})
	if err != nil || found == nil || found.ID != first.ID {
		t.Fatalf("lookup by key failed: %+v (%v)", found, err)
	}

	missing, err := store.FindSpecByKey(ctx, models.SpecKey{Make: "Opel", Model: "Astra", Year: 2015})
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for a missing spec, got %+v (%v)", missing, err)
	}
}

func TestMemoryStore_ListingsPerSource(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	created, err := store.CreateListing(ctx, &models.Listing{SourceID: "njuskalo", Link: "https://www.njuskalo.hr/auti/a", Price: "9500€"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CreateListing(ctx, &models.Listing{SourceID: "njuskalo", Link: "https://www.njuskalo.hr/auti/a"}); err == nil {
		t.Fatal("expected duplicate link to be rejected")
	}
	if _, err := store.CreateListing(ctx, &models.Listing{SourceID: "other", Link: "https://www.njuskalo.hr/auti/a"}); err != nil {
		t.Fatalf("same link in another source should be allowed: %v", err)
	}

	price := "9000€"
	sold := true
	now := time.Now()
	if err := store.UpdateListing(ctx, created.ID, models.ListingPatch{Price: &price, IsSold: &sold, IsSoldChangedAt: &now}); err != nil {
		t.Fatalf("update: %v", err)
	}

	listings, err := store.FindListingsBySource(ctx, "njuskalo")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("expected 1 listing, got %d", len(listings))
	}
	if listings[0].Price != "9000€" || !listings[0].IsSold || listings[0].IsSoldChangedAt == nil {
		t.Fatalf("patch not applied: %+v", listings[0])
	}
	if listings[0].Mileage != nil {
		t.Fatal("fields absent from the patch must stay untouched")
	}
}

func TestMemoryStore_ImageMirrorQueue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	img := "https://cdn.example.hr/golf.jpg"
	withImage, _ := store.CreateListing(ctx, &models.Listing{SourceID: "njuskalo", Link: "a", ImageURL: &img})
	store.CreateListing(ctx, &models.Listing{SourceID: "njuskalo", Link: "b"})

	pending, err := store.ListingsWithoutImageMirror(ctx, 3, 10)
	if err != nil || len(pending) != 1 || pending[0].ID != withImage.ID {
		t.Fatalf("unexpected pending images %+v (%v)", pending, err)
	}

	for i := 1; i <= 3; i++ {
		n, err := store.RecordImageFailure(ctx, withImage.ID)
		if err != nil || n != i {
			t.Fatalf("record failure: %d (%v)", n, err)
		}
	}
	pending, _ = store.ListingsWithoutImageMirror(ctx, 3, 10)
	if len(pending) != 0 {
		t.Fatalf("expected listing past the failure cap to leave the queue, got %d", len(pending))
	}
	pending, _ = store.ListingsWithoutImageMirror(ctx, 4, 10)
	if len(pending) != 1 {
		t.Fatalf("expected listing under a higher cap, got %d", len(pending))
	}

	if err := store.SetListingImageKey(ctx, withImage.ID, "listings/ab/abc.jpg"); err != nil {
		t.Fatalf("set key: %v", err)
	}
	pending, _ = store.ListingsWithoutImageMirror(ctx, 4, 10)
	if len(pending) != 0 {
		t.Fatalf("expected empty queue, got %d", len(pending))
	}
}
