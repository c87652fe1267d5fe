package trader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/latiaodream/zuizhonghg-sub000/internal/browserflow"
	"github.com/latiaodream/zuizhonghg-sub000/internal/hg"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/config"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/models"
	"github.com/latiaodream/zuizhonghg-sub000/internal/session"
)

// gateway is a scripted stand-in for the platform: per-op FIFO response
// bodies, with every request recorded for assertions. Unscripted ops get a
// bland success body so best-effort calls (balance refresh) do not interfere.
type gateway struct {
	mu        sync.Mutex
	responses map[string][]string
	requests  map[string][]url.Values
	srv       *httptest.Server
}

func newGateway(t *testing.T) *gateway {
	g := &gateway{
		responses: make(map[string][]string),
		requests:  make(map[string][]url.Values),
	}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("gateway: parse form: %v", err)
			return
		}
		op := r.PostForm.Get("p")

		g.mu.Lock()
		saved := url.Values{}
		for k, vs := range r.PostForm {
			saved[k] = append([]string(nil), vs...)
		}
		g.requests[op] = append(g.requests[op], saved)

		body := "<serverresponse><code>100</code><balance>1000</balance><credit>500</credit></serverresponse>"
		if queue := g.responses[op]; len(queue) > 0 {
			body = queue[0]
			g.responses[op] = queue[1:]
		}
		g.mu.Unlock()

		w.Write([]byte(body))
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *gateway) script(op string, bodies ...string) {
	g.mu.Lock()
	g.responses[op] = append(g.responses[op], bodies...)
	g.mu.Unlock()
}

func (g *gateway) calls(op string) []url.Values {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]url.Values(nil), g.requests[op]...)
}

type fakeAccountStore struct {
	mu          sync.Mutex
	account     models.Account
	credentials []string // recorded as "username/password"
	passcodes   []string
	balances    []float64
}

func (f *fakeAccountStore) GetAccount(_ context.Context, id string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account
	return &a, nil
}

func (f *fakeAccountStore) UpdateCredentials(_ context.Context, id, username, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credentials = append(f.credentials, username+"/"+password)
	f.account.Username, f.account.Password = username, password
	return nil
}

func (f *fakeAccountStore) UpdatePasscode(_ context.Context, id, passcode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passcodes = append(f.passcodes, passcode)
	f.account.Passcode = passcode
	return nil
}

func (f *fakeAccountStore) UpdateBalance(_ context.Context, id string, balance, credit float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances = append(f.balances, balance)
	return nil
}

type passcodeCall struct {
	uid   string
	shape hg.PasscodeShape
	code  string
}

type fakeBrowser struct {
	mu             sync.Mutex
	passcodeCalls  []passcodeCall
	passcodeStatus []browserflow.Status // consumed per call; empty means success
	credCalls      []string             // recorded as "username/password"
	credOutcome    *browserflow.Outcome
}

func (f *fakeBrowser) ResolvePasscode(_ context.Context, uid string, shape hg.PasscodeShape, passcode string) (*browserflow.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passcodeCalls = append(f.passcodeCalls, passcodeCall{uid: uid, shape: shape, code: passcode})
	status := browserflow.StatusSuccess
	if len(f.passcodeStatus) > 0 {
		status = f.passcodeStatus[0]
		f.passcodeStatus = f.passcodeStatus[1:]
	}
	return &browserflow.Outcome{Status: status, Reason: string(status)}, nil
}

func (f *fakeBrowser) ChangeCredentials(_ context.Context, uid, newUsername, newPassword string) (*browserflow.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credCalls = append(f.credCalls, newUsername+"/"+newPassword)
	if f.credOutcome != nil {
		return f.credOutcome, nil
	}
	return &browserflow.Outcome{Status: browserflow.StatusSuccess, NewUsername: newUsername, NewPassword: newPassword}, nil
}

func newTestCore(gw *gateway, store *fakeAccountStore, browser *fakeBrowser) *Core {
	cfg := &config.Config{}
	cfg.Platform.BaseURL = gw.srv.URL
	cfg.Platform.Timeout = 5 * time.Second
	cfg.Platform.LoginPollTimeout = 2 * time.Second
	registry := session.NewRegistry(2*time.Hour, nil)
	return NewCore(cfg, registry, store, browser, nil)
}

const (
	loginOK       = "<serverresponse><code_type>100</code_type><uid>u-9</uid></serverresponse>"
	passcodeSetup = "<serverresponse><code_type>109</code_type><uid>u-9</uid></serverresponse>"
	passcodeInput = "<serverresponse><code_type>110</code_type><uid>u-9</uid></serverresponse>"
	newLoginForm  = "<serverresponse><code_type>113</code_type><uid>u-9</uid></serverresponse>"
)

func testAccount() models.Account {
	return models.Account{ID: "acc-1", Username: "alice", Password: "pw-original", Enabled: true}
}

func TestAuthenticatePasscodeSetupPersistsAfterVerify(t *testing.T) {
	gw := newGateway(t)
	gw.script("chk_login", passcodeSetup, loginOK)
	store := &fakeAccountStore{account: testAccount()}
	browser := &fakeBrowser{}
	core := newTestCore(gw, store, browser)

	sess, err := core.Login(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.ExternalUserID != "u-9" {
		t.Errorf("session uid = %q, want u-9", sess.ExternalUserID)
	}
	if !core.IsOnline("acc-1") {
		t.Error("account not online after login")
	}

	if len(browser.passcodeCalls) != 1 {
		t.Fatalf("browser ran %d passcode flows, want 1", len(browser.passcodeCalls))
	}
	call := browser.passcodeCalls[0]
	if call.shape != hg.PasscodeSetup || call.uid != "u-9" {
		t.Errorf("passcode flow got shape=%s uid=%s", call.shape, call.uid)
	}
	if call.code == "" {
		t.Error("no passcode derived for an account without one")
	}

	// The derived code is stored only after the verifying login succeeded.
	if len(store.passcodes) != 1 || store.passcodes[0] != call.code {
		t.Errorf("stored passcodes %v, want the offered code %q", store.passcodes, call.code)
	}
	if len(store.balances) != 1 || store.balances[0] != 1000 {
		t.Errorf("balance refresh after login recorded %v, want [1000]", store.balances)
	}
}

func TestAuthenticateReusesStoredPasscode(t *testing.T) {
	gw := newGateway(t)
	gw.script("chk_login", passcodeInput, loginOK)
	account := testAccount()
	account.Passcode = "4321"
	store := &fakeAccountStore{account: account}
	browser := &fakeBrowser{}
	core := newTestCore(gw, store, browser)

	if _, err := core.Login(context.Background(), "acc-1"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if len(browser.passcodeCalls) != 1 || browser.passcodeCalls[0].code != "4321" {
		t.Errorf("passcode calls %v, want one call with the stored code", browser.passcodeCalls)
	}
	if len(store.passcodes) != 0 {
		t.Errorf("stored passcode rewritten: %v", store.passcodes)
	}
}

func TestAuthenticatePasscodeRejectedRepeatedly(t *testing.T) {
	gw := newGateway(t)
	gw.script("chk_login", passcodeSetup)
	store := &fakeAccountStore{account: testAccount()}
	browser := &fakeBrowser{
		passcodeStatus: []browserflow.Status{browserflow.StatusNeedsRetry, browserflow.StatusNeedsRetry},
	}
	core := newTestCore(gw, store, browser)

	if _, err := core.Login(context.Background(), "acc-1"); err == nil {
		t.Fatal("repeatedly rejected passcode must fail the login")
	}
	// The same code never loops beyond the attempt bound.
	if len(browser.passcodeCalls) != 2 {
		t.Errorf("browser ran %d passcode flows, want 2", len(browser.passcodeCalls))
	}
	if len(store.passcodes) != 0 {
		t.Errorf("failed flow must not store a passcode, got %v", store.passcodes)
	}
	if core.IsOnline("acc-1") {
		t.Error("failed login left the account online")
	}
}

func TestAuthenticateCredentialRotation(t *testing.T) {
	gw := newGateway(t)
	gw.script("chk_login", newLoginForm, loginOK)
	store := &fakeAccountStore{account: testAccount()}
	browser := &fakeBrowser{}
	core := newTestCore(gw, store, browser)

	if _, err := core.Login(context.Background(), "acc-1"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	logins := gw.calls("chk_login")
	if len(logins) != 2 {
		t.Fatalf("gateway saw %d login submits, want 2", len(logins))
	}
	rotated := logins[1].Get("username")
	if rotated == "" || rotated == "alice" {
		t.Errorf("verifying re-login kept the old username %q", rotated)
	}
	// A new-login form rotates only the login id.
	if logins[1].Get("password") != "pw-original" {
		t.Errorf("new-login form must keep the password, got %q", logins[1].Get("password"))
	}

	if len(store.credentials) != 1 {
		t.Fatalf("credentials persisted %d times, want 1", len(store.credentials))
	}
	if store.credentials[0] != rotated+"/pw-original" {
		t.Errorf("persisted %q, want %q", store.credentials[0], rotated+"/pw-original")
	}
}

func TestAuthenticateCredentialRotationFailureNotPersisted(t *testing.T) {
	gw := newGateway(t)
	gw.script("chk_login", newLoginForm)
	store := &fakeAccountStore{account: testAccount()}
	browser := &fakeBrowser{
		credOutcome: &browserflow.Outcome{Status: browserflow.StatusFailed, Reason: "form rejected"},
	}
	core := newTestCore(gw, store, browser)

	if _, err := core.Login(context.Background(), "acc-1"); err == nil {
		t.Fatal("failed credential change must fail the login")
	}
	if len(store.credentials) != 0 {
		t.Errorf("failed rotation persisted credentials: %v", store.credentials)
	}
	if core.IsOnline("acc-1") {
		t.Error("failed login left the account online")
	}
}

func TestAuthenticateDisabledAccount(t *testing.T) {
	gw := newGateway(t)
	account := testAccount()
	account.Enabled = false
	store := &fakeAccountStore{account: account}
	core := newTestCore(gw, store, &fakeBrowser{})

	if _, err := core.Login(context.Background(), "acc-1"); err == nil {
		t.Fatal("disabled account must not log in")
	}
	if len(gw.calls("chk_login")) != 0 {
		t.Error("disabled account reached the gateway")
	}
}
