package instagram

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	SessionKeyPrefix  = "instagram:"
	ChallengeCooldown = 30 * time.Minute
)

type Account struct {
	Username         string
	Password         string
	RateLimitedUntil time.Time
	LastLogin        time.Time
	LoginStatus      string
}

// SessionKey is the session store key for the account.
func (a *Account) SessionKey() string {
	return SessionKeyPrefix + a.Username
}

// ParseAccounts reads "user:pass" entries. Malformed entries are skipped.
func ParseAccounts(entries []string) []*Account {
	var out []*Account
	for _, e := range entries {
		user, pass, ok := strings.Cut(strings.TrimSpace(e), ":")
		if !ok || user == "" || pass == "" {
			logrus.Warnf("Skipping malformed account entry")
			continue
		}
		out = append(out, &Account{Username: strings.ToLower(user), Password: pass})
	}
	return out
}

type AccountManager struct {
	accounts []*Account
	index    int
	cooldown time.Duration
	mutex    sync.Mutex
	nowFunc  func() time.Time
}

func NewAccountManager(accounts []*Account, cooldown time.Duration) *AccountManager {
	if cooldown <= 0 {
		cooldown = ChallengeCooldown
	}
	return &AccountManager{
		accounts: accounts,
		cooldown: cooldown,
		nowFunc:  time.Now,
	}
}

func (manager *AccountManager) SetClock(now func() time.Time) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	manager.nowFunc = now
}

func (manager *AccountManager) Len() int {
	return len(manager.accounts)
}

// GetNextAccount rotates through the accounts that are not cooling down.
func (manager *AccountManager) GetNextAccount() *Account {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	now := manager.nowFunc()
	for i := 0; i < len(manager.accounts); i++ {
		account := manager.accounts[manager.index]
		manager.index = (manager.index + 1) % len(manager.accounts)
		if now.After(account.RateLimitedUntil) {
			return account
		}
	}
	return nil
}

// Available counts the accounts not cooling down.
func (manager *AccountManager) Available() int {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	now := manager.nowFunc()
	n := 0
	for _, account := range manager.accounts {
		if now.After(account.RateLimitedUntil) {
			n++
		}
	}
	return n
}

func (manager *AccountManager) MarkAccountRateLimited(account *Account) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	account.RateLimitedUntil = manager.nowFunc().Add(manager.cooldown)
}

func (manager *AccountManager) markLogin(account *Account, status string) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	account.LoginStatus = status
	if status == LoginOK {
		account.LastLogin = manager.nowFunc()
	}
}

func (manager *AccountManager) GetAccountByUsername(username string) *Account {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	for _, account := range manager.accounts {
		if account.Username == username {
			return account
		}
	}
	return nil
}

// GetAccountBySessionKey maps a session store key back to its account.
func (manager *AccountManager) GetAccountBySessionKey(key string) *Account {
	username, ok := strings.CutPrefix(key, SessionKeyPrefix)
	if !ok {
		return nil
	}
	return manager.GetAccountByUsername(username)
}

type AccountState struct {
	Username         string    `json:"username"`
	IsRateLimited    bool      `json:"is_rate_limited"`
	RateLimitedUntil time.Time `json:"rate_limited_until"`
	LastLogin        time.Time `json:"last_login"`
	LoginStatus      string    `json:"login_status"`
}

// GetAccountStates returns the state of all accounts, without credentials.
func (manager *AccountManager) GetAccountStates() []AccountState {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	now := manager.nowFunc()
	states := make([]AccountState, len(manager.accounts))
	for i, account := range manager.accounts {
		state := AccountState{
			Username:         account.Username,
			IsRateLimited:    now.Before(account.RateLimitedUntil),
			RateLimitedUntil: account.RateLimitedUntil,
			LastLogin:        account.LastLogin,
			LoginStatus:      account.LoginStatus,
		}
		if state.LoginStatus == "" {
			state.LoginStatus = "Not initialized"
		}
		states[i] = state
	}
	return states
}
