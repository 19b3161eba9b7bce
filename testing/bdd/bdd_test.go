package bdd

import (
	"testing"
	"time"

	"github.com/cacaotrail/cacaotrail"
	"github.com/cacaotrail/cacaotrail/testing/testutil"
	"github.com/stretchr/testify/assert"
)

func registerSupplier() cacaotrail.Command {
	return cacaotrail.RegisterSupplier{
		SupplierID: "sup-1",
		Name:       "Finca Uno",
		Region:     "Ashanti",
	}
}

func recordHarvest() cacaotrail.Command {
	return cacaotrail.RecordHarvest{
		BatchID:     "b-1",
		SupplierID:  "sup-1",
		Quantity:    100,
		Unit:        "kg",
		HarvestDate: time.Date(2024, 10, 2, 0, 0, 0, 0, time.UTC),
		Origin:      "Ashanti, Ghana",
	}
}

func TestGivenWhenThen(t *testing.T) {
	f := Given(t, registerSupplier())
	defer f.Close()

	f.When(cacaotrail.BatchSubject("b-1"), recordHarvest()).
		Then(cacaotrail.BatchHarvested{
			BatchID:     "b-1",
			SupplierID:  "sup-1",
			Quantity:    100,
			Unit:        "kg",
			HarvestDate: time.Date(2024, 10, 2, 0, 0, 0, 0, time.UTC),
			Origin:      "Ashanti, Ghana",
		})
}

func TestThenOnSeededChain(t *testing.T) {
	// The batch chain already holds the harvest event; Then must see
	// exactly the one event appended by When, starting at seq 2.
	f := Given(t, registerSupplier(), recordHarvest())
	defer f.Close()

	checked := time.Date(2024, 10, 9, 0, 0, 0, 0, time.UTC)
	f.When(cacaotrail.BatchSubject("b-1"), cacaotrail.QualityCheck{
		Subject:   cacaotrail.BatchSubject("b-1"),
		Grade:     "AA",
		Inspector: "insp-4",
		CheckedAt: checked,
	}).Then(cacaotrail.QualityChecked{
		Grade:     "AA",
		Inspector: "insp-4",
		CheckedAt: checked,
	})
}

func TestThenAck(t *testing.T) {
	f := Given(t, registerSupplier())
	defer f.Close()

	ack := f.When(cacaotrail.BatchSubject("b-1"), recordHarvest()).ThenAck()
	assert.Equal(t, int64(1), ack.Seq)
	assert.True(t, ack.Projected)
}

func TestThenError(t *testing.T) {
	f := Given(t) // no supplier registered
	defer f.Close()

	f.When(cacaotrail.BatchSubject("b-1"), recordHarvest()).
		ThenError(cacaotrail.ErrNotFound)
}

func TestThenErrorContains(t *testing.T) {
	f := Given(t, registerSupplier(), recordHarvest())
	defer f.Close()

	f.When(cacaotrail.ProductSubject("p-1"), cacaotrail.ComposeProduct{
		ProductID: "p-1",
		BatchID:   "b-1",
		Quantity:  500, // more than harvested
	}).ThenErrorContains("consumption exceeded")
}

func TestThenNoEvents(t *testing.T) {
	f := Given(t, registerSupplier(), recordHarvest())
	defer f.Close()

	// A failed composition must leave the product chain untouched.
	f.When(cacaotrail.ProductSubject("p-1"), cacaotrail.ComposeProduct{
		ProductID: "p-1",
		BatchID:   "missing",
		Quantity:  10,
	}).ThenNoEvents()
}

func TestValidationFailureSurfaces(t *testing.T) {
	f := Given(t)
	defer f.Close()

	f.When(cacaotrail.SupplierSubject(""), cacaotrail.RegisterSupplier{}).
		ThenError(cacaotrail.ErrValidationFailed)
}

func TestThenBeforeWhenFails(t *testing.T) {
	mt := testutil.RunWithMockT(func(m *testutil.MockT) {
		f := Given(m)
		defer f.Close()
		f.Then()
	})
	assert.True(t, mt.Fatal_)
}

func TestEventCountMismatch(t *testing.T) {
	mt := testutil.RunWithMockT(func(m *testutil.MockT) {
		f := Given(m, registerSupplier())
		defer f.Close()
		f.When(cacaotrail.BatchSubject("b-1"), recordHarvest()).Then()
	})
	assert.True(t, mt.Failed())
}
