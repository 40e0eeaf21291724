package model

import (
	"math"
	"time"
)

// Role identifies a consumer of the admin surface
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleAgent    Role = "agent"
	RoleEmployee Role = "employee"
	RoleVendor   Role = "vendor"
)

// FieldStaff reports whether r onboards vendors in the field. Field staff
// need an active user account.
func (r Role) FieldStaff() bool {
	return r == RoleAgent || r == RoleEmployee
}

// User is a field staff account managed by admins
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"isActive"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// VendorStatus is the lifecycle status of a vendor application
type VendorStatus string

const (
	VendorPending  VendorStatus = "pending"
	VendorApproved VendorStatus = "approved"
	VendorRejected VendorStatus = "rejected"
)

// ReviewState is the review state of an edit request
type ReviewState string

const (
	ReviewPending  ReviewState = "pending"
	ReviewApproved ReviewState = "approved"
	ReviewRejected ReviewState = "rejected"
)

// Decision is an admin verdict on a pending edit request
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Target returns the review state a decision moves a request into, or ""
// for an unknown decision.
func (d Decision) Target() ReviewState {
	switch d {
	case DecisionApprove:
		return ReviewApproved
	case DecisionReject:
		return ReviewRejected
	}
	return ""
}

// FieldType is the declared type of a schema field
type FieldType string

const (
	FieldText      FieldType = "text"
	FieldNumber    FieldType = "number"
	FieldBoolean   FieldType = "boolean"
	FieldEnum      FieldType = "enum"
	FieldMultiEnum FieldType = "multiEnum"
	FieldGeo       FieldType = "geo"
	FieldImage     FieldType = "image"
	FieldCurrency  FieldType = "currency"
)

var fieldTypes = map[FieldType]bool{
	FieldText:      true,
	FieldNumber:    true,
	FieldBoolean:   true,
	FieldEnum:      true,
	FieldMultiEnum: true,
	FieldGeo:       true,
	FieldImage:     true,
	FieldCurrency:  true,
}

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	return fieldTypes[t]
}

// Numeric reports whether values of t are stored as numbers.
func (t FieldType) Numeric() bool {
	return t == FieldNumber || t == FieldCurrency || t == FieldGeo
}

// Rules is the validation rule set of a field
type Rules struct {
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	MinLength *int     `json:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
	Options   []string `json:"options,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
}

// Section is an ordered group of fields
type Section struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Order       int      `json:"order"`
	VisibleTo   []Role   `json:"visibleTo,omitempty"`
	VendorTypes []string `json:"vendorTypes,omitempty"`
}

// Field is a single schema-defined input. Its ID is the formData key.
type Field struct {
	ID          string    `json:"id"`
	SectionID   string    `json:"sectionId"`
	Label       string    `json:"label"`
	Type        FieldType `json:"type"`
	Order       int       `json:"order"`
	Required    bool      `json:"required"`
	Rules       Rules     `json:"rules"`
	VendorTypes []string  `json:"vendorTypes,omitempty"`
}

// Vendor is a stored vendor record
type Vendor struct {
	ID         string                 `json:"id"`
	VendorType string                 `json:"vendorType"`
	Status     VendorStatus           `json:"status"`
	Latitude   float64                `json:"latitude"`
	Longitude  float64                `json:"longitude"`
	AgentID    string                 `json:"agentId,omitempty"`
	FormData   map[string]interface{} `json:"formData"`
	CreatedAt  time.Time              `json:"createdAt"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// PartialUpdate maps field identifiers to raw storage values to merge into formData
type PartialUpdate map[string]interface{}

// EditRequest is a proposed change to an approved vendor
type EditRequest struct {
	ID          string        `json:"id"`
	VendorID    string        `json:"vendorId"`
	Changes     PartialUpdate `json:"changes"`
	SubmittedAt time.Time     `json:"submittedAt"`
	Status      ReviewState   `json:"status"`
	Remark      *string       `json:"remark,omitempty"`
	ReviewedBy  *string       `json:"reviewedBy,omitempty"`
	ReviewedAt  *time.Time    `json:"reviewedAt,omitempty"`
	Seen        bool          `json:"seen"`
}

// VendorFilter narrows a vendor listing
type VendorFilter struct {
	Status     VendorStatus
	City       string
	Search     string
	AgentID    string
	VendorType string
	Page       int
	Limit      int
}

// Pagination describes one page of a listing
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// MonthlyCount is the number of vendor submissions in a calendar month
type MonthlyCount struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Count int `json:"count"`
}

// VendorSummary aggregates vendor counts for the dashboard
type VendorSummary struct {
	Total           int            `json:"total"`
	Pending         int            `json:"pending"`
	Approved        int            `json:"approved"`
	Rejected        int            `json:"rejected"`
	MonthlyRequests []MonthlyCount `json:"monthlyRequests"`
}

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
	// MaxPage keeps (page-1)*limit within an int
	MaxPage = math.MaxInt / MaxPageLimit
)

// CityKey is the formData key the city filter matches
const CityKey = "city"

// SearchKeys are the formData keys free-text search looks at, besides the id
var SearchKeys = []string{"restaurantName", "fullAddress"}

// Normalized returns the filter with page and limit clamped to usable values.
func (f VendorFilter) Normalized() VendorFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Page > MaxPage {
		f.Page = MaxPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	return f
}

// Offset is the number of rows before the filter's page
func (f VendorFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// NewPagination describes the filter's page within total rows
func NewPagination(f VendorFilter, total int) Pagination {
	pages := 0
	if f.Limit > 0 {
		pages = (total + f.Limit - 1) / f.Limit
	}
	return Pagination{Page: f.Page, Limit: f.Limit, Total: total, Pages: pages}
}
