package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfscan/backend/internal/domain"
)

func newTestRepository(t *testing.T) *ProductRepository {
	t.Helper()
	repo, err := Open(":memory:", nil)
	require.NoError(t, err)
	return repo
}

func TestSave_AssignsID(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	saved, err := repo.Save(ctx, &domain.ProductIdentity{
		Barcode: "4006381333931",
		Name:    "Sparkling Water",
		Brand:   "Acme",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, "4006381333931", saved.Barcode)
}

func TestSave_RequiresName(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.Save(context.Background(), &domain.ProductIdentity{Barcode: "123"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = repo.Save(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFindByBarcode_RoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	saved, err := repo.Save(ctx, &domain.ProductIdentity{
		Barcode:  "4006381333931",
		Name:     "Sparkling Water",
		Brand:    "Acme",
		Category: "Beverages",
		Size:     "500ml",
		Metadata: map[string]any{"discoverySource": "https://example.com"},
	})
	require.NoError(t, err)

	found, err := repo.FindByBarcode(ctx, "4006381333931")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, found.ID)
	assert.Equal(t, "Sparkling Water", found.Name)
	assert.Equal(t, "Beverages", found.Category)
	assert.Equal(t, "https://example.com", found.Metadata["discoverySource"])
}

func TestFindByBarcode_NotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.FindByBarcode(context.Background(), "0000000000")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = repo.FindByBarcode(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestSave_UpsertsByBarcodeKeepingID(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	first, err := repo.Save(ctx, &domain.ProductIdentity{Barcode: "123", Name: "Old Name"})
	require.NoError(t, err)

	// Re-resolving the same barcode updates the row instead of duplicating it.
	second, err := repo.Save(ctx, &domain.ProductIdentity{Barcode: "123", Name: "New Name"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "id must be stable across re-resolution")

	found, err := repo.FindByBarcode(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, "New Name", found.Name)

	candidates, err := repo.FindByText(ctx, "Name")
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestSave_BarcodelessIdentities(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	// Two vision-only identities without barcodes must coexist.
	a, err := repo.Save(ctx, &domain.ProductIdentity{Name: "Guess A"})
	require.NoError(t, err)
	b, err := repo.Save(ctx, &domain.ProductIdentity{Name: "Guess B"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestFindByText_MatchesNameAndBrand(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	seed := []domain.ProductIdentity{
		{Barcode: "1", Name: "Dark Chocolate Bar", Brand: "Acme"},
		{Barcode: "2", Name: "Sparkling Water", Brand: "Fizz"},
		{Barcode: "3", Name: "Milk", Brand: "Chocolate Farms"},
	}
	for i := range seed {
		_, err := repo.Save(ctx, &seed[i])
		require.NoError(t, err)
	}

	byName, err := repo.FindByText(ctx, "Chocolate")
	require.NoError(t, err)
	assert.Len(t, byName, 2, "matches on name or brand")

	none, err := repo.FindByText(ctx, "granola")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = repo.FindByText(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
