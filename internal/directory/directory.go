// Package directory holds the static employee roster used to attribute
// status updates and to address reminders.
package directory

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no employee matches an email.
var ErrNotFound = errors.New("employee not found")

// Employee is one roster entry. Email is the identity key.
type Employee struct {
	Email  string `yaml:"email" json:"email"`
	Name   string `yaml:"name" json:"name"`
	Domain string `yaml:"domain" json:"domain"`
}

// Directory is an immutable email -> Employee index.
type Directory struct {
	byEmail map[string]Employee
	ordered []Employee
}

type rosterFile struct {
	Employees []Employee `yaml:"employees"`
}

// New builds a Directory from the given entries. Emails are matched
// case-insensitively; duplicate or incomplete entries are rejected.
func New(employees []Employee) (*Directory, error) {
	d := &Directory{byEmail: make(map[string]Employee, len(employees))}
	for i, e := range employees {
		e.Email = strings.TrimSpace(e.Email)
		e.Name = strings.TrimSpace(e.Name)
		e.Domain = strings.TrimSpace(e.Domain)
		if e.Email == "" || e.Name == "" || e.Domain == "" {
			return nil, fmt.Errorf("employee %d: email, name and domain are required", i)
		}
		key := normalize(e.Email)
		if _, dup := d.byEmail[key]; dup {
			return nil, fmt.Errorf("employee %d: duplicate email %q", i, e.Email)
		}
		d.byEmail[key] = e
		d.ordered = append(d.ordered, e)
	}
	sort.Slice(d.ordered, func(i, j int) bool {
		return normalize(d.ordered[i].Email) < normalize(d.ordered[j].Email)
	})
	return d, nil
}

// Load reads a YAML roster of the form:
//
//	employees:
//	  - email: alice@co.com
//	    name: Alice
//	    domain: eng
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML roster.
func Parse(data []byte) (*Directory, error) {
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing directory: %w", err)
	}
	return New(f.Employees)
}

// LookupEmployeeByEmail returns the employee registered under email.
func (d *Directory) LookupEmployeeByEmail(email string) (Employee, error) {
	e, ok := d.byEmail[normalize(email)]
	if !ok {
		return Employee{}, ErrNotFound
	}
	return e, nil
}

// All returns every employee ordered by email. The slice is a copy.
func (d *Directory) All() []Employee {
	out := make([]Employee, len(d.ordered))
	copy(out, d.ordered)
	return out
}

// Len reports the number of employees.
func (d *Directory) Len() int { return len(d.ordered) }

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
