package msgpack

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacaotrail/cacaotrail"
)

func TestSerializer_RoundTrip(t *testing.T) {
	s := NewSerializer()

	harvested := cacaotrail.BatchHarvested{
		BatchID:     "batch-1",
		SupplierID:  "supplier-1",
		Quantity:    120.5,
		Unit:        "kg",
		HarvestDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Origin:      "Esmeraldas",
	}

	data, err := s.Serialize(harvested)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoded, err := s.Deserialize(data, cacaotrail.KindBatchHarvested)
	require.NoError(t, err)

	got, ok := decoded.(cacaotrail.BatchHarvested)
	require.True(t, ok)
	assert.Equal(t, harvested.BatchID, got.BatchID)
	assert.Equal(t, harvested.Quantity, got.Quantity)
	assert.True(t, harvested.HarvestDate.Equal(got.HarvestDate))
}

func TestSerializer_Serialize(t *testing.T) {
	s := NewSerializer()

	t.Run("nil payload", func(t *testing.T) {
		_, err := s.Serialize(nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, cacaotrail.ErrSerializationFailed)
	})

	t.Run("smaller than JSON", func(t *testing.T) {
		payload := cacaotrail.ProductComposed{
			ProductID:      "product-1",
			BatchID:        "batch-1",
			Quantity:       40,
			Name:           "Dark 70%",
			ManufacturerID: "maker-1",
		}
		data, err := s.Serialize(payload)
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	})
}

func TestSerializer_Deserialize(t *testing.T) {
	s := NewSerializer()

	t.Run("unregistered kind rejected", func(t *testing.T) {
		data, err := s.Serialize(cacaotrail.Sold{Buyer: "b"})
		require.NoError(t, err)

		_, err = s.Deserialize(data, "SomethingElse")
		require.Error(t, err)
		assert.ErrorIs(t, err, cacaotrail.ErrUnknownEventKind)

		var unknownErr *cacaotrail.UnknownEventKindError
		require.ErrorAs(t, err, &unknownErr)
		assert.Equal(t, "SomethingElse", unknownErr.Kind)
	})

	t.Run("empty data rejected", func(t *testing.T) {
		_, err := s.Deserialize(nil, cacaotrail.KindSold)
		require.Error(t, err)
		assert.ErrorIs(t, err, cacaotrail.ErrSerializationFailed)
	})

	t.Run("garbage data rejected", func(t *testing.T) {
		_, err := s.Deserialize([]byte("not msgpack at all"), cacaotrail.KindSold)
		require.Error(t, err)
		assert.False(t, errors.Is(err, cacaotrail.ErrUnknownEventKind))
	})
}

func TestSerializer_CustomRegistry(t *testing.T) {
	registry := cacaotrail.NewEmptyKindRegistry()
	registry.Register(cacaotrail.KindShipped, cacaotrail.Shipped{})

	s := NewSerializerWithRegistry(registry)
	assert.Equal(t, 1, s.Registry().Count())

	data, err := s.Serialize(cacaotrail.Shipped{Carrier: "dhl", Destination: "Hamburg"})
	require.NoError(t, err)

	_, err = s.Deserialize(data, cacaotrail.KindBatchHarvested)
	assert.ErrorIs(t, err, cacaotrail.ErrUnknownEventKind)

	decoded, err := s.Deserialize(data, cacaotrail.KindShipped)
	require.NoError(t, err)
	assert.Equal(t, "Hamburg", decoded.(cacaotrail.Shipped).Destination)
}
