// Package conversation holds the triage data model: conversations, their
// ordered messages and the closed sets of statuses, departments and roles.
package conversation

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusOpen        Status = "OPEN"
	StatusTransferred Status = "TRANSFERRED"
	StatusClosed      Status = "CLOSED"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusOpen, StatusTransferred, StatusClosed}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusTransferred, StatusClosed:
		return true
	}
	return false
}

// ParseStatus accepts a status name in any case.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", v)
	}
	return s, nil
}

// Department is the human queue a transferred conversation lands in.
type Department string

const (
	DepartmentSales   Department = "SALES"
	DepartmentSupport Department = "SUPPORT"
	DepartmentFinance Department = "FINANCE"
)

// Departments lists every department in display order.
var Departments = []Department{DepartmentSales, DepartmentSupport, DepartmentFinance}

// Valid reports whether d is a known department.
func (d Department) Valid() bool {
	switch d {
	case DepartmentSales, DepartmentSupport, DepartmentFinance:
		return true
	}
	return false
}

// Label is the human-facing queue name.
func (d Department) Label() string {
	switch d {
	case DepartmentSales:
		return "Sales"
	case DepartmentSupport:
		return "Support"
	case DepartmentFinance:
		return "Finance"
	}
	return string(d)
}

// ParseDepartment accepts a department name in any case.
func ParseDepartment(v string) (Department, error) {
	d := Department(strings.ToUpper(strings.TrimSpace(v)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown department %q", v)
	}
	return d, nil
}

// Conversation is one customer interaction. Department is non-nil exactly
// when Status is StatusTransferred; Summary is only ever set by that transition.
type Conversation struct {
	ID         string      `json:"id"`
	Status     Status      `json:"status"`
	Department *Department `json:"department"`
	Summary    *string     `json:"summary"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
	Messages   []Message   `json:"messages"`
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	out := *c
	if c.Department != nil {
		d := *c.Department
		out.Department = &d
	}
	if c.Summary != nil {
		s := *c.Summary
		out.Summary = &s
	}
	out.Messages = append([]Message(nil), c.Messages...)
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	return &out
}
