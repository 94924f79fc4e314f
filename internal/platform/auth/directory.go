package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// User is a console account from the static credential directory.
type User struct {
	ID       string     `json:"id"`
	Email    string     `json:"email"`
	Name     string     `json:"name"`
	Role     string     `json:"role"`
	ClinicID *uuid.UUID `json:"clinic_id,omitempty"`

	passwordHash []byte
}

// Credential describes a directory entry before its password is hashed.
type Credential struct {
	ID       string
	Email    string
	Password string
	Name     string
	Role     string
	ClinicID *uuid.UUID
}

// Directory is a fixed, in-memory set of console accounts keyed by email.
type Directory struct {
	users map[string]*User
}

// NewDirectory hashes each credential's password with the given bcrypt cost.
func NewDirectory(cost int, creds ...Credential) (*Directory, error) {
	d := &Directory{users: make(map[string]*User, len(creds))}
	for _, cr := range creds {
		hash, err := bcrypt.GenerateFromPassword([]byte(cr.Password), cost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", cr.Email, err)
		}
		email := strings.ToLower(strings.TrimSpace(cr.Email))
		d.users[email] = &User{
			ID:           cr.ID,
			Email:        email,
			Name:         cr.Name,
			Role:         cr.Role,
			ClinicID:     cr.ClinicID,
			passwordHash: hash,
		}
	}
	return d, nil
}

// DefaultCredentials returns the built-in demo accounts. The clinic admin
// and demo user are bound to demoClinic.
func DefaultCredentials(demoClinic uuid.UUID) []Credential {
	return []Credential{
		{ID: "1", Email: "admin@neurosense360.com", Password: "admin123", Name: "Super Admin", Role: RoleSuperAdmin},
		{ID: "2", Email: "clinic@demo.com", Password: "clinic123", Name: "Clinic Admin", Role: RoleClinicAdmin, ClinicID: &demoClinic},
		{ID: "3", Email: "user@demo.com", Password: "user123", Name: "Demo User", Role: RoleUser, ClinicID: &demoClinic},
	}
}

// Authenticate returns the user matching email and password.
func (d *Directory) Authenticate(email, password string) (*User, error) {
	u, ok := d.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	cp := *u
	return &cp, nil
}
