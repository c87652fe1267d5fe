package hg

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/platformerr"
)

const (
	defaultVersion   = "2.16"
	defaultLang      = "zh-cn"
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36"
	gatewayPath      = "/transform.php"
)

// Client is the HTTP session for one account: one cookie jar and one
// server-issued uid. All platform calls for the account funnel through this
// instance; the session registry guarantees no two concurrent operations
// mutate the jar or uid.
type Client struct {
	baseURL    string
	version    string
	lang       string
	userAgent  string
	httpClient *http.Client
	jar        *cookiejar.Jar

	mu  sync.RWMutex
	uid string
}

type ClientOptions struct {
	BaseURL   string
	Version   string
	Lang      string
	UserAgent string
	Timeout   time.Duration
	ProxyURL  string // optional forward proxy for all calls
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("platform base URL is required")
	}
	if opts.Version == "" {
		opts.Version = defaultVersion
	}
	if opts.Lang == "" {
		opts.Lang = defaultLang
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Client{
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		version:   opts.Version,
		lang:      opts.Lang,
		userAgent: opts.UserAgent,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			Jar:       jar,
		},
		jar: jar,
	}, nil
}

// UID returns the server-issued session id, empty before login.
func (c *Client) UID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uid
}

func (c *Client) setUID(uid string) {
	c.mu.Lock()
	c.uid = uid
	c.mu.Unlock()
}

// CookieHeader serializes the gateway cookies for the durable session
// snapshot.
func (c *Client) CookieHeader() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	var parts []string
	for _, ck := range c.jar.Cookies(u) {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return strings.Join(parts, "; ")
}

// Rehydrate restores a previously snapshotted session onto this client. The
// caller is responsible for having validated the snapshot's TTL first.
func (c *Client) Rehydrate(uid, cookieHeader string) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}
	var cookies []*http.Cookie
	for _, part := range strings.Split(cookieHeader, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: name, Value: value})
	}
	c.jar.SetCookies(u, cookies)
	c.setUID(uid)
	return nil
}

// do posts one gateway operation and returns the raw body after sentinel
// checking. Every operation carries the op code, session uid, protocol
// version and language.
func (c *Client) do(ctx context.Context, op string, params url.Values) ([]byte, error) {
	form := url.Values{}
	form.Set("p", op)
	form.Set("uid", c.UID())
	form.Set("ver", c.version)
	form.Set("langx", c.lang)
	for k, vs := range params {
		for _, v := range vs {
			form.Add(k, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+gatewayPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, platformerr.Wrap(platformerr.KindNetwork, "create request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.baseURL+"/")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, platformerr.Wrap(platformerr.KindNetwork, op+" request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, platformerr.Wrap(platformerr.KindNetwork, op+" read body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, platformerr.Wrap(platformerr.KindNetwork, op,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if err := checkSentinel(body); err != nil {
		return nil, err
	}
	return body, nil
}

// Balance fetches the account's current balance and credit.
func (c *Client) Balance(ctx context.Context) (balance, credit float64, err error) {
	body, err := c.do(ctx, opBalance, nil)
	if err != nil {
		return 0, 0, err
	}
	top, _, err := decodeResponse(body)
	if err != nil {
		return 0, 0, err
	}
	if err := statusError(top, "balance"); err != nil {
		return 0, 0, err
	}
	return top.pickFloat("balance", "maxcredit"), top.pickFloat("credit", "usecredit"), nil
}

// Logout tears the session down on the platform side. Errors are returned but
// the local session is considered gone regardless.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, opLogout, nil)
	c.setUID("")
	return err
}
