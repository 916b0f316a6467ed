// Package domain provides the core types shared by the feed loader, the
// filter engine and the HTTP handlers.
package domain

import (
	"context"
	"time"
)

// =============================================================================
// ADDRESS BLOCK TYPES
// =============================================================================

// Field identifies one of the filterable attributes of a Prefix.
type Field string

const (
	FieldRegion             Field = "region"
	FieldService            Field = "service"
	FieldNetworkBorderGroup Field = "network_border_group"
)

// Fields lists the filterable fields in selector display order.
var Fields = []Field{FieldNetworkBorderGroup, FieldService, FieldRegion}

// Prefix is one address block published in the feed.
// Values are taken verbatim from the feed and never mutated.
type Prefix struct {
	IPPrefix           string `json:"ip_prefix" validate:"required,cidr"`
	Region             string `json:"region" validate:"required"`
	Service            string `json:"service" validate:"required"`
	NetworkBorderGroup string `json:"network_border_group" validate:"required"`
}

// Value returns the prefix's value for a filterable field.
func (p Prefix) Value(f Field) string {
	switch f {
	case FieldRegion:
		return p.Region
	case FieldService:
		return p.Service
	case FieldNetworkBorderGroup:
		return p.NetworkBorderGroup
	}
	return ""
}

// Filter is a possibly partial set of equality constraints over Prefix
// fields. An empty field imposes no constraint.
type Filter struct {
	Region             string `json:"region,omitempty"`
	Service            string `json:"service,omitempty"`
	NetworkBorderGroup string `json:"network_border_group,omitempty"`
}

// Value returns the constraint for f, or "" when f is unconstrained.
func (c Filter) Value(f Field) string {
	switch f {
	case FieldRegion:
		return c.Region
	case FieldService:
		return c.Service
	case FieldNetworkBorderGroup:
		return c.NetworkBorderGroup
	}
	return ""
}

// With returns a copy of c with field f replaced by value.
// The other fields are left untouched.
func (c Filter) With(f Field, value string) Filter {
	switch f {
	case FieldRegion:
		c.Region = value
	case FieldService:
		c.Service = value
	case FieldNetworkBorderGroup:
		c.NetworkBorderGroup = value
	}
	return c
}

// IsEmpty reports whether no field is constrained.
func (c Filter) IsEmpty() bool {
	return c == Filter{}
}

// AvailableValues maps each filterable field to the sorted, distinct values
// seen across the full record list.
type AvailableValues map[Field][]string

// Feed is a parsed copy of the published address-range document.
type Feed struct {
	SyncToken  string
	CreateDate time.Time
	Prefixes   []Prefix

	// Skipped counts records dropped because they failed validation.
	Skipped int
}

//go:generate mockgen -source=prefix.go -destination=mock/fetcher.go -package=mock

// Fetcher retrieves the current feed.
type Fetcher interface {
	Fetch(ctx context.Context) (*Feed, error)
}
