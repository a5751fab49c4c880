package zefood

import "time"

// TrackingSnapshot is the materialized client-side view of one order's live
// tracking state. Partial push events are merged into it field by field;
// a full snapshot push replaces it wholesale.
type TrackingSnapshot struct {
	OrderID           string      `json:"orderId"`
	Status            OrderStatus `json:"status"`
	Driver            *Driver     `json:"driver,omitempty"`
	Restaurant        *Restaurant `json:"restaurant,omitempty"`
	DeliveryAddress   *Address    `json:"deliveryAddress,omitempty"`
	EstimatedDelivery *time.Time  `json:"estimatedDeliveryTime,omitempty"`
}

// ApplyStatus merges only the status field, leaving every other field
// (driver, location, address) untouched.
func (s *TrackingSnapshot) ApplyStatus(status OrderStatus) {
	s.Status = status
}

// ApplyLocation replaces the driver's location sample wholesale. A snapshot
// without a driver sub-record yet gets one holding just the sample, so a
// location push that beats the driver-assignment resync is not lost.
func (s *TrackingSnapshot) ApplyLocation(loc DriverLocation) {
	if s.Driver == nil {
		s.Driver = &Driver{ID: loc.DriverID}
	}
	s.Driver.Location = &loc
}

// Clone returns a deep copy. Callers receive clones so observers can never
// mutate the session-owned snapshot directly.
func (s *TrackingSnapshot) Clone() *TrackingSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	if s.Driver != nil {
		driver := *s.Driver
		if s.Driver.Location != nil {
			loc := *s.Driver.Location
			driver.Location = &loc
		}
		out.Driver = &driver
	}
	if s.Restaurant != nil {
		restaurant := *s.Restaurant
		out.Restaurant = &restaurant
	}
	if s.DeliveryAddress != nil {
		addr := *s.DeliveryAddress
		out.DeliveryAddress = &addr
	}
	if s.EstimatedDelivery != nil {
		eta := *s.EstimatedDelivery
		out.EstimatedDelivery = &eta
	}
	return &out
}
