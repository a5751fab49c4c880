// Package zefood holds the domain types shared by the REST client, the socket
// sessions and the local storage journal.
package zefood

import "time"

// OrderSummary is one row of the orders list. Only Status is ever mutated in
// place; everything else is display data loaded once.
type OrderSummary struct {
	ID             string      `json:"id"`
	Status         OrderStatus `json:"status"`
	RestaurantName string      `json:"restaurantName"`
	ItemCount      int         `json:"itemCount"`
	Total          float64     `json:"total"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Order is the full order detail returned by GET /orders/{id}. The client
// only reads PaymentStatus and Status from it; the rest is passed through to
// the display layer.
type Order struct {
	ID            string        `json:"id"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	Restaurant    *Restaurant   `json:"restaurant,omitempty"`
	Items         []OrderItem   `json:"items,omitempty"`
	Total         float64       `json:"total"`
	CreatedAt     time.Time     `json:"createdAt"`
}

type OrderItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Restaurant is the summary embedded in tracking snapshots and order details.
type Restaurant struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Address is a delivery address.
type Address struct {
	Street     string `json:"street"`
	Number     string `json:"number"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	ZipCode    string `json:"zipCode,omitempty"`
}

// DriverLocation is a point-in-time sample. It is always replaced wholesale
// on each push, never field-merged.
type DriverLocation struct {
	DriverID  string    `json:"driverId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Driver describes the courier assigned to an order. Location is nil until
// the first location push or snapshot containing one arrives.
type Driver struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Phone    string          `json:"phone,omitempty"`
	Vehicle  string          `json:"vehicle,omitempty"`
	Plate    string          `json:"plate,omitempty"`
	Location *DriverLocation `json:"location,omitempty"`
}

// Menu types, consumed as opaque request/response payloads by the catalog
// endpoints.
type MenuItem struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
}

type Card struct {
	ID    string `json:"id"`
	Brand string `json:"brand"`
	Last4 string `json:"last4"`
}

type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}
