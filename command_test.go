package cacaotrail

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandValidation(t *testing.T) {
	harvestDate := time.Date(2024, 10, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		cmd     Command
		wantErr bool
		field   string
	}{
		{
			name: "valid manufacturer registration",
			cmd:  RegisterManufacturer{ManufacturerID: "m1", Name: "Choco Works"},
		},
		{
			name:    "manufacturer without ID",
			cmd:     RegisterManufacturer{Name: "Choco Works"},
			wantErr: true,
			field:   "ManufacturerID",
		},
		{
			name:    "manufacturer without name",
			cmd:     RegisterManufacturer{ManufacturerID: "m1"},
			wantErr: true,
			field:   "Name",
		},
		{
			name: "valid supplier registration",
			cmd:  RegisterSupplier{SupplierID: "s1", Name: "Finca Esperanza"},
		},
		{
			name:    "supplier without ID",
			cmd:     RegisterSupplier{Name: "Finca Esperanza"},
			wantErr: true,
			field:   "SupplierID",
		},
		{
			name: "valid harvest",
			cmd: RecordHarvest{
				BatchID:     "b1",
				SupplierID:  "s1",
				Quantity:    500,
				Unit:        "kg",
				HarvestDate: harvestDate,
			},
		},
		{
			name: "harvest with zero quantity",
			cmd: RecordHarvest{
				BatchID:     "b1",
				SupplierID:  "s1",
				Quantity:    0,
				Unit:        "kg",
				HarvestDate: harvestDate,
			},
			wantErr: true,
			field:   "Quantity",
		},
		{
			name: "harvest with negative quantity",
			cmd: RecordHarvest{
				BatchID:     "b1",
				SupplierID:  "s1",
				Quantity:    -1,
				Unit:        "kg",
				HarvestDate: harvestDate,
			},
			wantErr: true,
			field:   "Quantity",
		},
		{
			name: "harvest without date",
			cmd: RecordHarvest{
				BatchID:    "b1",
				SupplierID: "s1",
				Quantity:   500,
				Unit:       "kg",
			},
			wantErr: true,
			field:   "HarvestDate",
		},
		{
			name: "valid quality check",
			cmd:  QualityCheck{Subject: BatchSubject("b1"), Grade: "AA"},
		},
		{
			name:    "quality check without grade",
			cmd:     QualityCheck{Subject: BatchSubject("b1")},
			wantErr: true,
			field:   "Grade",
		},
		{
			name:    "quality check on a supplier",
			cmd:     QualityCheck{Subject: SupplierSubject("s1"), Grade: "AA"},
			wantErr: true,
			field:   "Subject",
		},
		{
			name: "valid composition",
			cmd:  ComposeProduct{ProductID: "p1", BatchID: "b1", Quantity: 100},
		},
		{
			name:    "composition with zero quantity",
			cmd:     ComposeProduct{ProductID: "p1", BatchID: "b1"},
			wantErr: true,
			field:   "Quantity",
		},
		{
			name:    "composition without batch",
			cmd:     ComposeProduct{ProductID: "p1", Quantity: 100},
			wantErr: true,
			field:   "BatchID",
		},
		{
			name: "valid transfer",
			cmd:  TransferOwnership{Subject: BatchSubject("b1"), ToOwner: "coop-a"},
		},
		{
			name:    "transfer without new owner",
			cmd:     TransferOwnership{Subject: BatchSubject("b1")},
			wantErr: true,
			field:   "ToOwner",
		},
		{
			name:    "transfer to the same owner",
			cmd:     TransferOwnership{Subject: BatchSubject("b1"), FromOwner: "coop-a", ToOwner: "coop-a"},
			wantErr: true,
			field:   "ToOwner",
		},
		{
			name:    "transfer on a manufacturer subject",
			cmd:     TransferOwnership{Subject: ManufacturerSubject("m1"), ToOwner: "coop-a"},
			wantErr: true,
			field:   "Subject",
		},
		{
			name: "valid shipment",
			cmd:  RecordShipment{ProductID: "p1", Origin: "Hamburg", Destination: "Oslo"},
		},
		{
			name:    "shipment without destination",
			cmd:     RecordShipment{ProductID: "p1", Origin: "Hamburg"},
			wantErr: true,
			field:   "Destination",
		},
		{
			name: "valid sale",
			cmd:  RecordSale{ProductID: "p1", Buyer: "store-9", Price: 4.5},
		},
		{
			name:    "sale without buyer",
			cmd:     RecordSale{ProductID: "p1"},
			wantErr: true,
			field:   "Buyer",
		},
		{
			name:    "sale with negative price",
			cmd:     RecordSale{ProductID: "p1", Buyer: "store-9", Price: -1},
			wantErr: true,
			field:   "Price",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidationFailed))

			var verrs *ValidationErrors
			require.True(t, errors.As(err, &verrs))
			found := false
			for _, ve := range verrs.Errors {
				if ve.Field == tt.field {
					found = true
				}
			}
			assert.True(t, found, "expected a failure on field %s, got %v", tt.field, verrs.Errors)
		})
	}
}

func TestCommandValidationCollectsAllFailures(t *testing.T) {
	err := RecordHarvest{}.Validate()
	require.Error(t, err)

	var verrs *ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs.Errors, 5)
}

func TestCommandBase(t *testing.T) {
	base := CommandBase{}.WithCorrelationID("corr-1").WithActorID("inspector-3")

	assert.Equal(t, "corr-1", base.GetCorrelationID())
	assert.Equal(t, "corr-1", base.Metadata.CorrelationID)
	assert.Equal(t, "inspector-3", base.Metadata.ActorID)
}

func TestCommandNames(t *testing.T) {
	names := map[string]Command{
		"RegisterManufacturer": RegisterManufacturer{},
		"RegisterSupplier":     RegisterSupplier{},
		"RecordHarvest":        RecordHarvest{},
		"QualityCheck":         QualityCheck{},
		"ComposeProduct":       ComposeProduct{},
		"TransferOwnership":    TransferOwnership{},
		"RecordShipment":       RecordShipment{},
		"RecordSale":           RecordSale{},
	}
	for want, cmd := range names {
		assert.Equal(t, want, cmd.CommandName())
	}
}
