package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DeliveryOption string

const (
	DeliveryOptionPickup   DeliveryOption = "pickup"
	DeliveryOptionDelivery DeliveryOption = "delivery"
)

var branches = map[string]string{
	"atlas1": "Atlas Burger 1 - Main Branch",
	"atlas2": "Atlas Burger 2 - Downtown",
}

// BranchName returns the display name of a pickup branch code.
func BranchName(code string) (string, bool) {
	name, ok := branches[code]
	return name, ok
}

// DeliveryRequest is the fulfilment part of a checkout as submitted by the client.
// It is also stored verbatim on a payment intent and replayed at finalization.
type DeliveryRequest struct {
	Option          DeliveryOption   `json:"delivery_option"`
	PickupBranch    string           `json:"pickup_branch,omitempty"`
	PickupTime      *time.Time       `json:"pickup_time,omitempty"`
	DeliveryAddress string           `json:"delivery_address,omitempty"`
	Latitude        *decimal.Decimal `json:"latitude,omitempty"`
	Longitude       *decimal.Decimal `json:"longitude,omitempty"`
	DeliveryTime    *time.Time       `json:"delivery_time,omitempty"`
}

// Delivery is the validated fulfilment of an order. Fields of the mode not
// chosen are always zero.
type Delivery struct {
	Option          DeliveryOption
	PickupBranch    string
	PickupTime      *time.Time
	DeliveryAddress string
	Latitude        *decimal.Decimal
	Longitude       *decimal.Decimal
	DeliveryTime    *time.Time
}

// FieldError names the request field that failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Normalize validates the request and fills the time of the chosen mode with
// now when it is absent. Address and branch are never defaulted.
func (r DeliveryRequest) Normalize(now time.Time) (Delivery, error) {
	switch r.Option {
	case DeliveryOptionPickup:
		branch := strings.TrimSpace(r.PickupBranch)
		if branch == "" {
			return Delivery{}, &FieldError{Field: "pickup_branch", Message: "Pickup branch is required for pickup"}
		}
		if _, ok := branches[branch]; !ok {
			return Delivery{}, &FieldError{Field: "pickup_branch", Message: "Unknown pickup branch"}
		}
		at := now
		if r.PickupTime != nil {
			at = *r.PickupTime
		}
		return Delivery{Option: DeliveryOptionPickup, PickupBranch: branch, PickupTime: &at}, nil

	case DeliveryOptionDelivery:
		address := strings.TrimSpace(r.DeliveryAddress)
		hasCoords := r.Latitude != nil && r.Longitude != nil
		if address == "" && !hasCoords {
			return Delivery{}, &FieldError{
				Field:   "delivery_address",
				Message: "Either delivery address or location coordinates are required for delivery",
			}
		}
		if (r.Latitude == nil) != (r.Longitude == nil) {
			field := "longitude"
			if r.Latitude == nil {
				field = "latitude"
			}
			return Delivery{}, &FieldError{Field: field, Message: "Latitude and longitude must be given together"}
		}
		if hasCoords {
			if r.Latitude.Abs().GreaterThan(decimal.NewFromInt(90)) {
				return Delivery{}, &FieldError{Field: "latitude", Message: "Latitude must be between -90 and 90"}
			}
			if r.Longitude.Abs().GreaterThan(decimal.NewFromInt(180)) {
				return Delivery{}, &FieldError{Field: "longitude", Message: "Longitude must be between -180 and 180"}
			}
		}
		at := now
		if r.DeliveryTime != nil {
			at = *r.DeliveryTime
		}
		d := Delivery{Option: DeliveryOptionDelivery, DeliveryAddress: address, DeliveryTime: &at}
		if hasCoords {
			lat, lon := *r.Latitude, *r.Longitude
			d.Latitude, d.Longitude = &lat, &lon
		}
		return d, nil
	}
	return Delivery{}, &FieldError{Field: "delivery_option", Message: "Delivery option must be pickup or delivery"}
}
