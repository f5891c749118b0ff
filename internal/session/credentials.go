// Package session authenticates users against the remote credential store
// and keeps the resulting logins.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/reviewdesk/internal/campaign"
	"github.com/foxzi/reviewdesk/internal/gateway"
	"github.com/foxzi/reviewdesk/internal/normalize"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrSessionExpired     = errors.New("session expired")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidPassword    = errors.New("password must not be empty")
	ErrInvalidTheme       = errors.New("unknown theme")
)

// Validator checks credentials against the users the backend returns
type Validator struct {
	gw     gateway.Gateway
	logger *slog.Logger

	// accept a lone record that has no email field
	trustSingleRecord bool
}

// NewValidator creates a credential validator
func NewValidator(gw gateway.Gateway, trustSingleRecord bool, logger *slog.Logger) *Validator {
	return &Validator{
		gw:                gw,
		logger:            logger.With("component", "credentials"),
		trustSingleRecord: trustSingleRecord,
	}
}

// ValidateCredentials returns the matching user or ErrInvalidCredentials.
// A backend failure is returned wrapped so callers can tell it apart.
func (v *Validator) ValidateCredentials(ctx context.Context, email, password string) (*campaign.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	tree, err := v.gw.FetchUsers(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}

	users := normalize.Users(tree)
	if len(users) == 0 {
		v.logger.Debug("no users returned", "email", email)
		return nil, ErrInvalidCredentials
	}

	for i := range users {
		u := users[i]
		if u.Password == "" {
			continue
		}

		stored := u.Email
		if stored == "" && len(users) == 1 && v.trustSingleRecord {
			stored = email
		}
		if stored != email {
			continue
		}

		if !passwordMatches(u.Password, password) {
			v.logger.Info("password mismatch", "email", email)
			return nil, ErrInvalidCredentials
		}

		u.Email = stored
		if u.Name == "" {
			u.Name = nameFromEmail(stored)
		}
		u.Password = ""
		return &u, nil
	}

	return nil, ErrInvalidCredentials
}

func passwordMatches(stored, input string) bool {
	stored = strings.TrimSpace(stored)
	if isBcrypt(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(input)) == 1
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// nameFromEmail capitalizes the local part: "sam@x.com" becomes "Sam"
func nameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return ""
	}
	return strings.ToUpper(local[:1]) + local[1:]
}
