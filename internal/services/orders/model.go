package orders

import "time"

// Order statuses move forward through the print workflow; cancelled is
// terminal.
const (
	StatusDraft        = "draft"
	StatusPlaced       = "placed"
	StatusInProduction = "in_production"
	StatusShipped      = "shipped"
	StatusCancelled    = "cancelled"
)

// Order is one print order. Version increments on every mutating write,
// including soft deletes; the sync layer relies on that to detect drift.
type Order struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantID"`
	CustomerID  string    `json:"customerID"`
	ProductName string    `json:"productName"`
	Quantity    int       `json:"quantity"`
	Status      string    `json:"status"`
	Notes       string    `json:"notes"`
	Version     int64     `json:"version"`
	Deleted     bool      `json:"deleted"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func validStatus(status string) bool {
	switch status {
	case StatusDraft, StatusPlaced, StatusInProduction, StatusShipped, StatusCancelled:
		return true
	}
	return false
}
