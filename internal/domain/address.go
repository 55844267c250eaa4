// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"regexp"
)

var ErrInvalidAddress = errors.New("invalid address")

// addressRe splits node@domain/resource; node and resource are optional.
var addressRe = regexp.MustCompile(`^(?:([^@/]+)@)?([^@/]+)(?:/(.+))?$`)

// Address is a protocol identifier of a participant or room,
// in the email-like node@domain/resource form.
type Address string

// NewAddress builds an Address from its parts. Resource may be empty.
func NewAddress(node, domain, resource string) Address {
	a := node + "@" + domain
	if resource != "" {
		a += "/" + resource
	}
	return Address(a)
}

// Split returns the node, domain and resource parts of the address.
func (a Address) Split() (node, domain, resource string, err error) {
	m := addressRe.FindStringSubmatch(string(a))
	if m == nil {
		return "", "", "", ErrInvalidAddress
	}
	return m[1], m[2], m[3], nil
}

// Bare strips the resource part.
func (a Address) Bare() Address {
	node, domain, _, err := a.Split()
	if err != nil {
		return a
	}
	if node == "" {
		return Address(domain)
	}
	return Address(node + "@" + domain)
}

// Resource returns the resource part, or "" if none.
func (a Address) Resource() string {
	_, _, res, err := a.Split()
	if err != nil {
		return ""
	}
	return res
}
