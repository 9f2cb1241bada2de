package autofill

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kalambet/freightdocs/internal/documents"
	"github.com/kalambet/freightdocs/internal/storage"
)

var ctx = context.Background()

type fakeDocs struct {
	getFn func(ctx context.Context, id string) (storage.Document, error)
}

func (f *fakeDocs) GetDocument(ctx context.Context, id string) (storage.Document, error) {
	return f.getFn(ctx, id)
}

type fakeShipments struct {
	shipment storage.Shipment
	updates  []map[string]any
	saveErr  error
}

func (f *fakeShipments) GetShipment(ctx context.Context, id string) (storage.Shipment, error) {
	if id != f.shipment.ID {
		return storage.Shipment{}, storage.ErrNotFound
	}
	return f.shipment, nil
}

func (f *fakeShipments) UpdateShipmentFields(ctx context.Context, id string, fields map[string]any) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if id != f.shipment.ID {
		return storage.ErrNotFound
	}
	f.updates = append(f.updates, fields)
	return nil
}

func docWith(data map[string]any) *fakeDocs {
	conf := 0.95
	return &fakeDocs{getFn: func(_ context.Context, id string) (storage.Document, error) {
		if id != "d1" {
			return storage.Document{}, storage.ErrNotFound
		}
		return storage.Document{ID: "d1", ShipmentID: "s1", ExtractedData: data, ConfidenceScore: &conf}, nil
	}}
}

func TestResolve_SynonymPriority(t *testing.T) {
	data := map[string]any{"weight_kg": 900.0, "total_weight_kg": 1200.0, "gross_weight": 1100.0}
	v, ok := Resolve(data, "gross_weight_kg")
	if !ok || v != 1200.0 {
		t.Errorf("Resolve = %v, %v; want total_weight_kg value", v, ok)
	}
}

func TestResolve_EmptyValueFallsThrough(t *testing.T) {
	data := map[string]any{"hs_code": "", "hscode": "8471.30"}
	v, ok := Resolve(data, "hs_code")
	if !ok || v != "8471.30" {
		t.Errorf("Resolve = %v, %v", v, ok)
	}

	if _, ok := Resolve(map[string]any{"packages": 0.0}, "total_packages"); ok {
		t.Error("zero should not resolve")
	}
	if _, ok := Resolve(data, "incoterm"); ok {
		t.Error("unknown field should not resolve")
	}
}

func TestApply_DefaultFields(t *testing.T) {
	ships := &fakeShipments{shipment: storage.Shipment{ID: "s1", HSCode: "0000"}}
	data := map[string]any{
		"total_weight_kg": 1250.5,
		"net_weight":      "1,100 kg",
		"total_volume":    8.75,
		"packages":        42.0,
		"description":     "Laptops",
	}
	m := NewMerger(docWith(data), ships)

	res, err := m.Apply(ctx, "d1", "", nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	want := []string{"gross_weight_kg", "net_weight_kg", "volume_cbm", "total_packages", "goods_description"}
	if !reflect.DeepEqual(res.UpdatedFields, want) {
		t.Errorf("updated = %v, want %v", res.UpdatedFields, want)
	}
	if len(ships.updates) != 1 {
		t.Fatalf("updated %d times, want 1", len(ships.updates))
	}
	wantCols := map[string]any{
		"gross_weight_kg":   1250.5,
		"net_weight_kg":     1100.0,
		"volume_cbm":        8.75,
		"total_packages":    42,
		"goods_description": "Laptops",
	}
	if !reflect.DeepEqual(ships.updates[0], wantCols) {
		t.Errorf("columns = %v, want %v", ships.updates[0], wantCols)
	}
	if _, ok := ships.updates[0]["hs_code"]; ok {
		t.Error("unresolved hs_code was written")
	}
	if res.Values["total_packages"] != 42 || res.Confidence == nil || *res.Confidence != 0.95 {
		t.Errorf("result = %+v", res)
	}
}

func TestApply_RequestedSubset(t *testing.T) {
	ships := &fakeShipments{shipment: storage.Shipment{ID: "s1"}}
	data := map[string]any{"hs_code": "8471.30", "weight_kg": 10.0}
	m := NewMerger(docWith(data), ships)

	res, err := m.Apply(ctx, "d1", "s1", []string{"hs_code", "not_a_field"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !reflect.DeepEqual(res.UpdatedFields, []string{"hs_code"}) {
		t.Errorf("updated = %v", res.UpdatedFields)
	}
	if _, ok := ships.updates[0]["gross_weight_kg"]; ok || len(ships.updates[0]) != 1 {
		t.Errorf("columns = %v, want hs_code only", ships.updates[0])
	}
}

func TestApply_UncoercibleSkipped(t *testing.T) {
	ships := &fakeShipments{shipment: storage.Shipment{ID: "s1"}}
	data := map[string]any{"packages": "about a dozen", "gross_weight": []any{1.0}}
	m := NewMerger(docWith(data), ships)

	res, err := m.Apply(ctx, "d1", "", nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(res.UpdatedFields) != 0 {
		t.Errorf("updated = %v, want none", res.UpdatedFields)
	}
	if len(ships.updates) != 0 {
		t.Error("shipment updated although nothing resolved")
	}
}

func TestApply_Errors(t *testing.T) {
	ships := &fakeShipments{shipment: storage.Shipment{ID: "s1"}}

	if _, err := NewMerger(docWith(nil), ships).Apply(ctx, "d1", "", nil); !errors.Is(err, documents.ErrPreconditionFailed) {
		t.Errorf("no extracted data: err = %v, want ErrPreconditionFailed", err)
	}
	if len(ships.updates) != 0 {
		t.Error("shipment mutated on precondition failure")
	}

	m := NewMerger(docWith(map[string]any{"hs_code": "1"}), ships)
	if _, err := m.Apply(ctx, "missing", "", nil); !errors.Is(err, documents.ErrNotFound) {
		t.Errorf("missing document: err = %v", err)
	}
	if _, err := m.Apply(ctx, "d1", "other-shipment", nil); !errors.Is(err, documents.ErrNotFound) {
		t.Errorf("shipment mismatch: err = %v", err)
	}

	gone := &fakeShipments{shipment: storage.Shipment{ID: "elsewhere"}}
	if _, err := NewMerger(docWith(map[string]any{"hs_code": "1"}), gone).Apply(ctx, "d1", "", nil); !errors.Is(err, documents.ErrNotFound) {
		t.Errorf("missing shipment: err = %v", err)
	}

	broken := &fakeShipments{shipment: storage.Shipment{ID: "s1"}, saveErr: errors.New("disk I/O error")}
	if _, err := NewMerger(docWith(map[string]any{"hs_code": "1"}), broken).Apply(ctx, "d1", "", nil); !errors.Is(err, documents.ErrUnavailable) {
		t.Errorf("save failure: err = %v, want ErrUnavailable", err)
	}
}

func TestApply_WithSQLiteStore(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	store.CreateShipment(ctx, storage.Shipment{ID: "s1", ShipmentNumber: "SH-1"})
	doc := storage.Document{ID: "d1", ShipmentID: "s1", Type: "packing_list", FileName: "pl.pdf", MIMEType: "application/pdf"}
	job := storage.ExtractionJob{ID: "j1"}
	if err := store.CreateDocumentWithJob(ctx, doc, job); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ClaimNextExtractionJob(ctx); err != nil {
		t.Fatal(err)
	}
	out := storage.ExtractionOutcome{
		Fields:     map[string]any{"total_packages": 12, "total_weight_kg": 340.0},
		Confidence: 0.66, Method: "test", NeedsReview: true,
	}
	if err := store.CompleteExtraction(ctx, "j1", out); err != nil {
		t.Fatal(err)
	}

	res, err := NewMerger(store, store).Apply(ctx, "d1", "s1", nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(res.UpdatedFields) != 2 {
		t.Errorf("updated = %v", res.UpdatedFields)
	}
	sh, _ := store.GetShipment(ctx, "s1")
	if sh.TotalPackages == nil || *sh.TotalPackages != 12 || sh.GrossWeightKg == nil || *sh.GrossWeightKg != 340 {
		t.Errorf("shipment = %+v", sh)
	}
}

// Two documents autofill different fields of the same shipment after both
// read it; neither write may undo the other.
func TestApply_InterleavedAutofillsKeepBothFields(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.CreateShipment(ctx, storage.Shipment{ID: "s1", ShipmentNumber: "SH-1"}); err != nil {
		t.Fatal(err)
	}

	weightDoc := &fakeDocs{getFn: func(_ context.Context, id string) (storage.Document, error) {
		return storage.Document{ID: id, ShipmentID: "s1", ExtractedData: map[string]any{"gross_weight": 1200.0}}, nil
	}}
	hsDoc := &fakeDocs{getFn: func(_ context.Context, id string) (storage.Document, error) {
		return storage.Document{ID: id, ShipmentID: "s1", ExtractedData: map[string]any{"hs_code": "8471.30"}}, nil
	}}

	// The hs_code autofill reads the shipment, then the weight autofill
	// runs to completion before the hs_code one writes.
	a := NewMerger(weightDoc, store)
	b := NewMerger(hsDoc, &pausingShipments{Store: store, afterGet: func() {
		if _, err := a.Apply(ctx, "dA", "s1", []string{"gross_weight_kg"}); err != nil {
			t.Errorf("weight autofill: %v", err)
		}
	}})
	if _, err := b.Apply(ctx, "dB", "s1", []string{"hs_code"}); err != nil {
		t.Fatalf("hs_code autofill: %v", err)
	}

	sh, err := store.GetShipment(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if sh.GrossWeightKg == nil || *sh.GrossWeightKg != 1200 {
		t.Errorf("GrossWeightKg = %v, want 1200", sh.GrossWeightKg)
	}
	if sh.HSCode != "8471.30" {
		t.Errorf("HSCode = %q, want 8471.30", sh.HSCode)
	}
}

// pausingShipments runs afterGet once between the read and the write.
type pausingShipments struct {
	*storage.Store
	afterGet func()
	once     bool
}

func (p *pausingShipments) GetShipment(ctx context.Context, id string) (storage.Shipment, error) {
	sh, err := p.Store.GetShipment(ctx, id)
	if !p.once && p.afterGet != nil {
		p.once = true
		p.afterGet()
	}
	return sh, err
}
