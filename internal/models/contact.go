package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Precedence marks a contact as the canonical member of its cluster or as a
// record linked to that member
type Precedence uint8

const (
	Primary Precedence = iota + 1
	Secondary
)

// String returns the stored representation of p
func (p Precedence) String() string {
	switch p {
	case Primary:
		return "primary"
	case Secondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// ParsePrecedence converts a stored value back into a Precedence
func ParsePrecedence(s string) (Precedence, error) {
	switch s {
	case "primary":
		return Primary, nil
	case "secondary":
		return Secondary, nil
	}
	return 0, fmt.Errorf("invalid link precedence %q", s)
}

// Value implements driver.Valuer
func (p Precedence) Value() (driver.Value, error) {
	if p != Primary && p != Secondary {
		return nil, fmt.Errorf("invalid link precedence %d", p)
	}
	return p.String(), nil
}

// Scan implements sql.Scanner
func (p *Precedence) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Precedence", src)
	}
	parsed, err := ParsePrecedence(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalJSON encodes p as "primary" or "secondary"
func (p Precedence) MarshalJSON() ([]byte, error) {
	if p != Primary && p != Secondary {
		return nil, fmt.Errorf("invalid link precedence %d", p)
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts only "primary" or "secondary"
func (p *Precedence) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePrecedence(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Contact represents a customer contact in the database
type Contact struct {
	ID             int64      `json:"id"`
	PhoneNumber    *string    `json:"phoneNumber,omitempty"`
	Email          *string    `json:"email,omitempty"`
	LinkedID       *int64     `json:"linkedId,omitempty"`
	LinkPrecedence Precedence `json:"linkPrecedence"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

// IsPrimary reports whether c is the canonical member of its cluster
func (c *Contact) IsPrimary() bool {
	return c.LinkPrecedence == Primary
}

// RootID returns the id of the primary contact c belongs to
func (c *Contact) RootID() int64 {
	if c.LinkPrecedence == Secondary && c.LinkedID != nil {
		return *c.LinkedID
	}
	return c.ID
}

// Before orders contacts by creation time, falling back to the lower id when
// timestamps collide
func (c *Contact) Before(o *Contact) bool {
	if !c.CreatedAt.Equal(o.CreatedAt) {
		return c.CreatedAt.Before(o.CreatedAt)
	}
	return c.ID < o.ID
}

// Validate checks the per-record invariants every stored contact must hold
func (c *Contact) Validate() error {
	if c.Email == nil && c.PhoneNumber == nil {
		return fmt.Errorf("contact %d has neither email nor phone number", c.ID)
	}
	switch c.LinkPrecedence {
	case Primary:
		if c.LinkedID != nil {
			return fmt.Errorf("primary contact %d must not be linked", c.ID)
		}
	case Secondary:
		if c.LinkedID == nil {
			return fmt.Errorf("secondary contact %d must be linked", c.ID)
		}
		if *c.LinkedID == c.ID {
			return fmt.Errorf("contact %d cannot link to itself", c.ID)
		}
	default:
		return fmt.Errorf("contact %d has invalid link precedence %d", c.ID, c.LinkPrecedence)
	}
	return nil
}

// Descriptor is the partial identity submitted for reconciliation; empty
// strings count as absent
type Descriptor struct {
	Email       *string
	PhoneNumber *string
}

// NewDescriptor builds a Descriptor, dropping empty values
func NewDescriptor(email, phone string) Descriptor {
	var d Descriptor
	if email != "" {
		d.Email = &email
	}
	if phone != "" {
		d.PhoneNumber = &phone
	}
	return d
}

// Normalize returns d with empty values replaced by nil
func (d Descriptor) Normalize() Descriptor {
	if d.Email != nil && *d.Email == "" {
		d.Email = nil
	}
	if d.PhoneNumber != nil && *d.PhoneNumber == "" {
		d.PhoneNumber = nil
	}
	return d
}

// IsEmpty reports whether d carries no identifying field
func (d Descriptor) IsEmpty() bool {
	n := d.Normalize()
	return n.Email == nil && n.PhoneNumber == nil
}

// SamePair reports whether c stores exactly the descriptor's email and phone
// number, an absent field matching only an absent field
func (d Descriptor) SamePair(c *Contact) bool {
	return EqualOptional(d.Email, c.Email) && EqualOptional(d.PhoneNumber, c.PhoneNumber)
}

// EqualOptional compares two optional values, nil being equal only to nil
func EqualOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// PhoneNumber accepts either a JSON string or a JSON number
type PhoneNumber string

// UnmarshalJSON stores a JSON number as its decimal digits
func (p *PhoneNumber) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PhoneNumber(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("phoneNumber must be a string or a number")
	}
	if _, err := strconv.ParseUint(n.String(), 10, 64); err != nil {
		return fmt.Errorf("phoneNumber must be a non-negative integer, got %s", n)
	}
	*p = PhoneNumber(n.String())
	return nil
}

// IdentifyRequest represents the incoming request body
type IdentifyRequest struct {
	Email       *string      `json:"email" validate:"omitempty,max=320"`
	PhoneNumber *PhoneNumber `json:"phoneNumber" validate:"omitempty,max=32"`
}

// Descriptor converts the request into a normalized Descriptor
func (r IdentifyRequest) Descriptor() Descriptor {
	d := Descriptor{Email: r.Email}
	if r.PhoneNumber != nil {
		s := string(*r.PhoneNumber)
		d.PhoneNumber = &s
	}
	return d.Normalize()
}

// ConsolidatedIdentity is the reconciled view of one cluster
type ConsolidatedIdentity struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}
