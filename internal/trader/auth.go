package trader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/latiaodream/zuizhonghg-sub000/internal/browserflow"
	"github.com/latiaodream/zuizhonghg-sub000/internal/hg"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/models"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/platformerr"
	"github.com/latiaodream/zuizhonghg-sub000/internal/session"
)

// maxLoginTransitions bounds the state machine: each passcode or credential
// sub-flow consumes one transition and re-enters login.
const maxLoginTransitions = 4

// passcodeAttempts is how many times the same code may be offered before the
// flow stops retrying and fails.
const passcodeAttempts = 2

// authenticate drives one full login for an account, including the passcode
// and credential-change sub-flows. It runs under the registry's login lock.
func (c *Core) authenticate(ctx context.Context, accountID string) (*session.Session, error) {
	account, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Enabled {
		return nil, platformerr.New(platformerr.KindValidation, "", "account "+accountID+" is disabled")
	}

	client, err := c.newClient(account)
	if err != nil {
		return nil, fmt.Errorf("build client for %s: %w", accountID, err)
	}

	// Credentials may rotate mid-flow; they are persisted only after the
	// verifying re-login succeeds.
	username, password := account.Username, account.Password
	var pendingCreds bool
	var pendingPasscode string

	for transition := 0; transition < maxLoginTransitions; transition++ {
		out, err := client.Login(ctx, username, password, c.cfg.Platform.LoginPollTimeout)
		if err != nil {
			return nil, err
		}
		slog.Info("login outcome", "account_id", accountID, "state", out.State, "token", out.RawToken)

		switch out.State {
		case hg.StateSuccess:
			return c.establish(ctx, account, client, username, password, pendingCreds, pendingPasscode)

		case hg.StateDoubleLogout:
			resumed, err := client.AcknowledgeDoubleLogin(ctx)
			if err != nil {
				return nil, err
			}
			if resumed {
				return c.establish(ctx, account, client, username, password, pendingCreds, pendingPasscode)
			}
			return nil, platformerr.New(platformerr.KindSessionInvalid, out.RawToken,
				"account active elsewhere, prompt did not resume the session")

		case hg.StatePasscodeChallenge:
			code, stored, err := c.resolvePasscode(ctx, account, out)
			if err != nil {
				c.notifier.LoginFailed(accountID, err.Error())
				return nil, err
			}
			if !stored {
				pendingPasscode = code
			}
			// Re-enter login; the platform accepts the account now.

		case hg.StateCredentialChangeRequired:
			newUsername, newPassword, err := c.rotateCredentials(ctx, account, out, username, password)
			if err != nil {
				c.notifier.LoginFailed(accountID, err.Error())
				return nil, err
			}
			username, password = newUsername, newPassword
			pendingCreds = true
			// Re-enter login with the new credentials; persistence waits
			// for that verification to succeed.

		case hg.StateTimeout:
			return nil, platformerr.New(platformerr.KindNetwork, "", "login outcome poll timed out")

		default:
			c.notifier.LoginFailed(accountID, fmt.Sprintf("token %s: %s", out.RawToken, out.Message))
			return nil, platformerr.New(hg.KindForToken(out.RawToken), out.RawToken, out.Message)
		}
	}

	return nil, platformerr.New(platformerr.KindOther, "", "login did not converge after "+
		fmt.Sprint(maxLoginTransitions)+" transitions")
}

// resolvePasscode answers a passcode challenge. The stored code is reused
// when present; otherwise one is derived and returned for persistence after
// the verifying login. Returns (code, alreadyStored, err).
func (c *Core) resolvePasscode(ctx context.Context, account *models.Account, out *hg.LoginOutcome) (string, bool, error) {
	if c.browser == nil {
		return "", false, platformerr.New(platformerr.KindOther, out.RawToken,
			"passcode challenge but no browser driver configured")
	}

	code := account.Passcode
	stored := code != ""
	if !stored {
		code = browserflow.DerivePasscode(account.ID, c.now())
	}

	for attempt := 1; attempt <= passcodeAttempts; attempt++ {
		outcome, err := c.browser.ResolvePasscode(ctx, out.UID, out.PasscodeShape, code)
		if err != nil {
			return "", stored, fmt.Errorf("passcode flow: %w", err)
		}
		switch outcome.Status {
		case browserflow.StatusSuccess:
			slog.Info("passcode challenge resolved", "account_id", account.ID, "shape", out.PasscodeShape)
			return code, stored, nil
		case browserflow.StatusNeedsRetry:
			slog.Warn("passcode rejected, retrying", "account_id", account.ID, "attempt", attempt)
		default:
			return "", stored, platformerr.New(platformerr.KindOther, out.RawToken,
				"passcode flow failed: "+outcome.Reason)
		}
	}
	// Same code rejected repeatedly; never loop on it.
	return "", stored, platformerr.New(platformerr.KindOther, out.RawToken,
		"passcode rejected repeatedly")
}

// rotateCredentials fills the forced credential-change form and returns the
// credentials to verify with. The hinted form shape narrows what is derived;
// the driver still probes the live page.
func (c *Core) rotateCredentials(ctx context.Context, account *models.Account, out *hg.LoginOutcome, username, password string) (string, string, error) {
	if c.browser == nil {
		return "", "", platformerr.New(platformerr.KindOther, out.RawToken,
			"credential change demanded but no browser driver configured")
	}

	newLogin, newPassword := browserflow.DeriveCredentials(username, c.now())
	switch out.CredentialForm {
	case hg.CredentialFormNewLogin:
		newPassword = password
	case hg.CredentialFormNewPassword:
		newLogin = username
	}

	outcome, err := c.browser.ChangeCredentials(ctx, out.UID, newLogin, newPassword)
	if err != nil {
		return "", "", fmt.Errorf("credential change flow: %w", err)
	}
	if outcome.Status != browserflow.StatusSuccess {
		return "", "", platformerr.New(platformerr.KindOther, out.RawToken,
			"credential change failed: "+outcome.Reason)
	}

	resultLogin, resultPassword := username, password
	if outcome.NewUsername != "" {
		resultLogin = outcome.NewUsername
	}
	if outcome.NewPassword != "" {
		resultPassword = outcome.NewPassword
	}
	slog.Info("credentials rotated on platform, verifying re-login", "account_id", account.ID)
	return resultLogin, resultPassword, nil
}

// establish finishes a successful login: persists rotated credentials and
// passcodes now that the verifying login succeeded, snapshots the session,
// and refreshes the balance best-effort.
func (c *Core) establish(ctx context.Context, account *models.Account, client *hg.Client,
	username, password string, pendingCreds bool, pendingPasscode string) (*session.Session, error) {

	if pendingCreds {
		if err := c.store.UpdateCredentials(ctx, account.ID, username, password); err != nil {
			return nil, fmt.Errorf("persist rotated credentials: %w", err)
		}
		c.notifier.CredentialsRotated(account.ID, username)
	}
	if pendingPasscode != "" {
		if err := c.store.UpdatePasscode(ctx, account.ID, pendingPasscode); err != nil {
			return nil, fmt.Errorf("persist passcode: %w", err)
		}
		c.notifier.PasscodeStored(account.ID)
	}

	sess := &session.Session{
		AccountID:      account.ID,
		ExternalUserID: client.UID(),
		Client:         client,
		EstablishedAt:  c.now(),
	}
	if err := c.registry.Persist(ctx, sess); err != nil {
		slog.Warn("session snapshot not persisted", "account_id", account.ID, "error", err)
	}

	if balance, credit, err := client.Balance(ctx); err != nil {
		slog.Debug("balance refresh after login failed", "account_id", account.ID, "error", err)
	} else if err := c.store.UpdateBalance(ctx, account.ID, balance, credit); err != nil {
		slog.Warn("balance not persisted", "account_id", account.ID, "error", err)
	}

	slog.Info("login established", "account_id", account.ID, "uid", sess.ExternalUserID)
	return sess, nil
}
