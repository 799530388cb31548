package devserver

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/ahmad-cheema/file-verse/internal/logging"
	"github.com/ahmad-cheema/file-verse/pkg/models"
)

// RoleAdmin may list users.
const RoleAdmin = "admin"

// defaultRole is stored when user_create carries no role.
const defaultRole = "normal"

type account struct {
	hash []byte
	role string
}

// Users holds accounts with bcrypt password hashes.
type Users struct {
	cost int

	mu       sync.RWMutex
	accounts map[string]account
}

func newUsers(cost int) *Users {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Users{cost: cost, accounts: make(map[string]account)}
}

// Create adds an account.
func (u *Users) Create(username, password, role string) error {
	if username == "" || password == "" {
		return errInvalidRequest
	}
	if role == "" {
		role = defaultRole
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), u.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.accounts[username]; ok {
		return errUserExists
	}
	u.accounts[username] = account{hash: hashed, role: role}

	logging.Info("user created", logging.String("username", username), logging.String("role", role))
	return nil
}

// Verify checks a password and returns the account role.
func (u *Users) Verify(username, password string) (string, error) {
	u.mu.RLock()
	acct, ok := u.accounts[username]
	u.mu.RUnlock()
	if !ok {
		logging.Warn("login failed: unknown user", logging.String("username", username))
		return "", errLoginFailed
	}
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(password)); err != nil {
		logging.Warn("login failed: invalid password", logging.String("username", username))
		return "", errLoginFailed
	}
	return acct.role, nil
}

// List returns all accounts sorted by username.
func (u *Users) List() []models.UserInfo {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]models.UserInfo, 0, len(u.accounts))
	for name, acct := range u.accounts {
		out = append(out, models.UserInfo{Username: name, Role: acct.role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
