package instagram

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/internal/proxy"
	"github.com/masa-finance/lead-worker/internal/session"
)

const LoginOK = "Successful"

// LoginFunc signs in and returns the session cookies. Browser.Login is the
// production implementation.
type LoginFunc func(ctx context.Context, username, password, proxyURL string) ([]*http.Cookie, error)

// Authenticator refreshes account sessions for the session store.
type Authenticator struct {
	accounts *AccountManager
	login    LoginFunc
	proxies  *proxy.Pool
}

// NewAuthenticator builds a refresher. proxies may be nil for direct egress.
func NewAuthenticator(accounts *AccountManager, login LoginFunc, proxies *proxy.Pool) *Authenticator {
	return &Authenticator{accounts: accounts, login: login, proxies: proxies}
}

// Register adds a refresher for every account to the session store.
func (a *Authenticator) Register(store *session.Store) {
	for _, acc := range a.accounts.accounts {
		store.Register(acc.SessionKey(), a)
	}
}

func (a *Authenticator) Refresh(ctx context.Context, key string) (session.SessionState, error) {
	account := a.accounts.GetAccountBySessionKey(key)
	if account == nil {
		return session.SessionState{}, fmt.Errorf("%w: no account for session %s", ErrInvalidCredentials, key)
	}

	// A caller already holding a lease logs in through it and reports the
	// outcome itself.
	held, borrowed := proxy.LeaseFromContext(ctx)
	proxyURL := held.URL
	var handle proxy.Handle
	if a.proxies != nil && !borrowed {
		var err error
		if handle, err = a.proxies.Lease(); err != nil {
			return session.SessionState{}, err
		}
		proxyURL = handle.URL
	}

	logrus.Infof("Logging in as %s", account.Username)
	cookies, err := a.login(ctx, account.Username, account.Password, proxyURL)

	outcome := proxy.OutcomeOK
	switch {
	case err == nil:
		a.accounts.markLogin(account, LoginOK)
	case errors.Is(err, ErrInvalidCredentials):
		a.accounts.markLogin(account, "Failed - invalid credentials")
	case errors.Is(err, ErrSoftBlocked):
		outcome = proxy.OutcomeBlocked
		a.accounts.markLogin(account, "Please verify")
		a.accounts.MarkAccountRateLimited(account)
	default:
		outcome = proxy.OutcomeFailed
		a.accounts.markLogin(account, "Failed - "+err.Error())
	}
	if a.proxies != nil && !borrowed {
		a.proxies.Release(handle, outcome)
	}
	if err != nil {
		logrus.WithError(err).Warnf("Login failed for %s", account.Username)
		return session.SessionState{}, err
	}

	return session.SessionState{
		Key:       key,
		Account:   account.Username,
		Cookies:   cookies,
		ExpiresAt: cookieExpiry(cookies),
	}, nil
}
