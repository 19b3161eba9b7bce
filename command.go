package cacaotrail

import "time"

// Command is a request to record provenance. Commands are validated
// before any append; a command that fails validation never reaches the
// ledger.
type Command interface {
	// CommandName returns the unique name for this command.
	CommandName() string

	// Validate checks the command fields.
	Validate() error
}

// CommandBase provides common command fields. Embed it in commands
// that carry metadata.
type CommandBase struct {
	// Metadata is attached to every event the command produces.
	Metadata Metadata
}

// WithCorrelationID returns a copy with the correlation ID set.
func (b CommandBase) WithCorrelationID(id string) CommandBase {
	b.Metadata.CorrelationID = id
	return b
}

// WithActorID returns a copy with the acting party set.
func (b CommandBase) WithActorID(id string) CommandBase {
	b.Metadata.ActorID = id
	return b
}

// GetCorrelationID returns the correlation ID, if set.
func (b CommandBase) GetCorrelationID() string {
	return b.Metadata.CorrelationID
}

// RegisterManufacturer adds a manufacturer to the registry.
type RegisterManufacturer struct {
	CommandBase
	ManufacturerID string `json:"manufacturerId"`
	Name           string `json:"name"`
	Location       string `json:"location,omitempty"`
	Contact        string `json:"contact,omitempty"`
}

// CommandName returns the command name.
func (c RegisterManufacturer) CommandName() string { return "RegisterManufacturer" }

// Validate checks the command fields.
func (c RegisterManufacturer) Validate() error {
	errs := &ValidationErrors{}
	if c.ManufacturerID == "" {
		errs.Add("ManufacturerID", "required")
	}
	if c.Name == "" {
		errs.Add("Name", "required")
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// RegisterSupplier adds a supplier to the registry.
type RegisterSupplier struct {
	CommandBase
	SupplierID string `json:"supplierId"`
	Name       string `json:"name"`
	Region     string `json:"region,omitempty"`
	Contact    string `json:"contact,omitempty"`
}

// CommandName returns the command name.
func (c RegisterSupplier) CommandName() string { return "RegisterSupplier" }

// Validate checks the command fields.
func (c RegisterSupplier) Validate() error {
	errs := &ValidationErrors{}
	if c.SupplierID == "" {
		errs.Add("SupplierID", "required")
	}
	if c.Name == "" {
		errs.Add("Name", "required")
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// RecordHarvest starts a cacao batch chain.
type RecordHarvest struct {
	CommandBase
	BatchID       string    `json:"batchId"`
	SupplierID    string    `json:"supplierId"`
	Quantity      float64   `json:"quantity"`
	Unit          string    `json:"unit"`
	HarvestDate   time.Time `json:"harvestDate"`
	Origin        string    `json:"origin,omitempty"`
	Certification string    `json:"certification,omitempty"`
}

// CommandName returns the command name.
func (c RecordHarvest) CommandName() string { return "RecordHarvest" }

// Validate checks the command fields.
func (c RecordHarvest) Validate() error {
	errs := &ValidationErrors{}
	if c.BatchID == "" {
		errs.Add("BatchID", "required")
	}
	if c.SupplierID == "" {
		errs.Add("SupplierID", "required")
	}
	if c.Quantity <= 0 {
		errs.Add("Quantity", "must be positive")
	}
	if c.Unit == "" {
		errs.Add("Unit", "required")
	}
	if c.HarvestDate.IsZero() {
		errs.Add("HarvestDate", "required")
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// QualityCheck records an inspection on a batch or product.
type QualityCheck struct {
	CommandBase
	Subject   SubjectID `json:"subject"`
	Grade     string    `json:"grade"`
	Inspector string    `json:"inspector,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// CommandName returns the command name.
func (c QualityCheck) CommandName() string { return "QualityCheck" }

// Validate checks the command fields.
func (c QualityCheck) Validate() error {
	errs := &ValidationErrors{}
	if err := c.Subject.Validate(); err != nil {
		errs.Add("Subject", err.Error())
	} else if c.Subject.Kind != SubjectBatch && c.Subject.Kind != SubjectProduct {
		errs.Add("Subject", "must be a batch or product")
	}
	if c.Grade == "" {
		errs.Add("Grade", "required")
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ComposeProduct records manufacturing a product from a cacao batch.
// The first composition of a product carries its metadata (name,
// manufacturer, batch number); follow-up compositions add more cacao
// from other batches.
type ComposeProduct struct {
	CommandBase
	ProductID      string  `json:"productId"`
	BatchID        string  `json:"batchId"`
	Quantity       float64 `json:"quantity"`
	Name           string  `json:"name,omitempty"`
	Description    string  `json:"description,omitempty"`
	ManufacturerID string  `json:"manufacturerId,omitempty"`
	BatchNumber    string  `json:"batchNumber,omitempty"`
}

// CommandName returns the command name.
func (c ComposeProduct) CommandName() string { return "ComposeProduct" }

// Validate checks the command fields.
func (c ComposeProduct) Validate() error {
	errs := &ValidationErrors{}
	if c.ProductID == "" {
		errs.Add("ProductID", "required")
	}
	if c.BatchID == "" {
		errs.Add("BatchID", "required")
	}
	if c.Quantity <= 0 {
		errs.Add("Quantity", "must be positive")
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// TransferOwnership records a change of custody for a batch or product.
type TransferOwnership struct {
	CommandBase
	Subject       SubjectID `json:"subject"`
	FromOwner     string    `json:"fromOwner"`
	ToOwner       string    `json:"toOwner"`
	TransferredAt time.Time `json:"transferredAt"`
}

// CommandName returns the command name.
func (c TransferOwnership) CommandName() string { return "TransferOwnership" }

// Validate checks the command fields.
func (c TransferOwnership) Validate() error {
	errs := &ValidationErrors{}
	if err := c.Subject.Validate(); err != nil {
		errs.Add("Subject", err.Error())
	} else if c.Subject.Kind != SubjectBatch && c.Subject.Kind != SubjectProduct {
		errs.Add("Subject", "must be a batch or product")
	}
	if c.ToOwner == "" {
		errs.Add("ToOwner", "required")
	}
	if c.FromOwner != "" && c.FromOwner == c.ToOwner {
		errs.Add("ToOwner", "must differ from FromOwner")
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// RecordShipment records a shipment leg for a product.
type RecordShipment struct {
	CommandBase
	ProductID   string    `json:"productId"`
	Carrier     string    `json:"carrier,omitempty"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	ShippedAt   time.Time `json:"shippedAt"`
}

// CommandName returns the command name.
func (c RecordShipment) CommandName() string { return "RecordShipment" }

// Validate checks the command fields.
func (c RecordShipment) Validate() error {
	errs := &ValidationErrors{}
	if c.ProductID == "" {
		errs.Add("ProductID", "required")
	}
	if c.Destination == "" {
		errs.Add("Destination", "required")
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// RecordSale records the sale of a product.
type RecordSale struct {
	CommandBase
	ProductID string    `json:"productId"`
	Buyer     string    `json:"buyer"`
	Price     float64   `json:"price,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	SoldAt    time.Time `json:"soldAt"`
}

// CommandName returns the command name.
func (c RecordSale) CommandName() string { return "RecordSale" }

// Validate checks the command fields.
func (c RecordSale) Validate() error {
	errs := &ValidationErrors{}
	if c.ProductID == "" {
		errs.Add("ProductID", "required")
	}
	if c.Buyer == "" {
		errs.Add("Buyer", "required")
	}
	if c.Price < 0 {
		errs.Add("Price", "must not be negative")
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}
