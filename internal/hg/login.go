package hg

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/platformerr"
)

// LoginState is the outcome of one login attempt.
type LoginState string

const (
	StateSuccess                  LoginState = "success"
	StateDoubleLogout             LoginState = "double_logout"
	StatePasscodeChallenge        LoginState = "passcode_challenge"
	StateCredentialChangeRequired LoginState = "credential_change_required"
	StateFailed                   LoginState = "failed"
	StateTimeout                  LoginState = "timeout"
)

// PasscodeShape distinguishes the three passcode prompts the platform shows.
type PasscodeShape string

const (
	PasscodeSetup  PasscodeShape = "setup"  // two blank inputs, choose a new code
	PasscodeInput  PasscodeShape = "input"  // one blank input, re-enter known code
	PasscodeKeypad PasscodeShape = "keypad" // tap-to-enter pad, no text inputs
)

// CredentialFormShape distinguishes the forced credential-change forms.
type CredentialFormShape string

const (
	CredentialFormNewLogin    CredentialFormShape = "new_login"
	CredentialFormNewPassword CredentialFormShape = "new_password"
	CredentialFormCombined    CredentialFormShape = "combined"
)

// LoginOutcome is the decoded terminal result of one login attempt at the
// wire level. Higher layers drive the passcode and credential-change
// sub-flows based on State.
type LoginOutcome struct {
	State          LoginState
	UID            string
	PasscodeShape  PasscodeShape
	CredentialForm CredentialFormShape
	RawToken       string
	Message        string
}

const loginPollInterval = 1500 * time.Millisecond

// Login submits credentials and polls the post-submit signal until the
// platform commits to an outcome or pollTimeout elapses. The poll is a short
// bounded loop; the gateway answers each poll immediately with either a
// pending marker or the final code.
func (c *Client) Login(ctx context.Context, username, password string, pollTimeout time.Duration) (*LoginOutcome, error) {
	params := url.Values{}
	params.Set("username", username)
	params.Set("password", password)
	params.Set("app", "N")
	params.Set("auto", "CDDFZD")

	body, err := c.do(ctx, opLogin, params)
	if err != nil {
		if platformerr.Is(err, platformerr.KindSessionInvalid) {
			return &LoginOutcome{State: StateDoubleLogout, RawToken: platformerr.TokenOf(err)}, nil
		}
		return nil, err
	}
	top, _, err := decodeResponse(body)
	if err != nil {
		return nil, err
	}

	// Immediate outcomes skip the poll entirely.
	if out := c.outcomeFromFields(top); out != nil {
		return out, nil
	}

	procID := top.pick("proc_id", "mid")
	if procID == "" {
		return &LoginOutcome{
			State:    StateFailed,
			RawToken: top.pick("code", "code_type"),
			Message:  top.pick("msg", "errormsg"),
		}, nil
	}

	slog.Debug("hg: login submitted, awaiting outcome", "proc_id", procID)
	return c.pollLoginOutcome(ctx, procID, pollTimeout)
}

// pollLoginOutcome repeatedly asks the gateway for the attempt's result.
func (c *Client) pollLoginOutcome(ctx context.Context, procID string, pollTimeout time.Duration) (*LoginOutcome, error) {
	deadline := time.Now().Add(pollTimeout)
	ticker := time.NewTicker(loginPollInterval)
	defer ticker.Stop()

	for {
		params := url.Values{}
		params.Set("proc_id", procID)
		body, err := c.do(ctx, opLoginPoll, params)
		if err != nil {
			if platformerr.Is(err, platformerr.KindSessionInvalid) {
				return &LoginOutcome{State: StateDoubleLogout, RawToken: platformerr.TokenOf(err)}, nil
			}
			return nil, err
		}
		top, _, err := decodeResponse(body)
		if err != nil {
			return nil, err
		}

		if top.pick("step") != "pending" {
			if out := c.outcomeFromFields(top); out != nil {
				return out, nil
			}
			return &LoginOutcome{
				State:    StateFailed,
				RawToken: top.pick("code", "code_type"),
				Message:  top.pick("msg", "errormsg"),
			}, nil
		}

		if time.Now().After(deadline) {
			return &LoginOutcome{State: StateTimeout}, nil
		}
		select {
		case <-ctx.Done():
			return nil, platformerr.Wrap(platformerr.KindNetwork, "login poll", ctx.Err())
		case <-ticker.C:
		}
	}
}

// outcomeFromFields decodes a committed login response; nil means the
// response is an ack that still needs polling.
func (c *Client) outcomeFromFields(top fields) *LoginOutcome {
	code := top.pick("code_type", "code")
	msg := top.pick("msg", "errormsg")

	// Challenge states carry a provisional uid the browser sub-flows need.
	uid := top.pick("uid", "sid")

	switch code {
	case codeOK:
		if uid == "" {
			return &LoginOutcome{State: StateFailed, RawToken: code, Message: "success code without uid"}
		}
		c.setUID(uid)
		return &LoginOutcome{State: StateSuccess, UID: uid, RawToken: code}
	case codeDoubleLogin:
		return &LoginOutcome{State: StateDoubleLogout, UID: uid, RawToken: code, Message: msg}
	case codePasscodeSetup:
		return &LoginOutcome{State: StatePasscodeChallenge, PasscodeShape: PasscodeSetup, UID: uid, RawToken: code, Message: msg}
	case codePasscodeInput:
		return &LoginOutcome{State: StatePasscodeChallenge, PasscodeShape: PasscodeInput, UID: uid, RawToken: code, Message: msg}
	case codePasscodeKeypad:
		return &LoginOutcome{State: StatePasscodeChallenge, PasscodeShape: PasscodeKeypad, UID: uid, RawToken: code, Message: msg}
	case codeNewLoginID:
		return &LoginOutcome{State: StateCredentialChangeRequired, CredentialForm: CredentialFormNewLogin, UID: uid, RawToken: code, Message: msg}
	case codeNewPassword:
		return &LoginOutcome{State: StateCredentialChangeRequired, CredentialForm: CredentialFormNewPassword, UID: uid, RawToken: code, Message: msg}
	case codeNewCredentials:
		return &LoginOutcome{State: StateCredentialChangeRequired, CredentialForm: CredentialFormCombined, UID: uid, RawToken: code, Message: msg}
	case "":
		return nil
	}

	return &LoginOutcome{State: StateFailed, RawToken: code, Message: msg}
}

// AcknowledgeDoubleLogin confirms the "active elsewhere" prompt. The follow-up
// body tells whether the session actually survived: a success code means the
// platform kept us logged in, anything else is a distinguishable failure and
// the caller must not retry with this session.
func (c *Client) AcknowledgeDoubleLogin(ctx context.Context) (bool, error) {
	params := url.Values{}
	params.Set("confirm", "Y")
	body, err := c.do(ctx, opLogin, params)
	if err != nil {
		if platformerr.Is(err, platformerr.KindSessionInvalid) {
			return false, nil
		}
		return false, err
	}
	top, _, err := decodeResponse(body)
	if err != nil {
		return false, err
	}
	if top.pick("code_type", "code") == codeOK {
		if uid := top.pick("uid", "sid"); uid != "" {
			c.setUID(uid)
		}
		return true, nil
	}
	return false, nil
}
