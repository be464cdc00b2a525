package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/config"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/httpclient"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/session/domain"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
)

const (
	loginTimeout = 3 * time.Minute
	probeTimeout = 30 * time.Second
)

// RodAuthenticator logs into the seller portal with a headless browser and
// extracts the session cookies. A persistent profile directory keeps the
// device trusted across logins so the OTP challenge is not always shown.
type RodAuthenticator struct {
	cfg    config.PortalConfig
	logger *zap.Logger
}

// NewRodAuthenticator creates an authenticator for the given portal account.
func NewRodAuthenticator(cfg config.PortalConfig) *RodAuthenticator {
	return &RodAuthenticator{
		cfg:    cfg,
		logger: logger.Get(),
	}
}

// Login drives the portal login form, answers the OTP challenge when it
// appears and returns the resulting cookie set.
func (a *RodAuthenticator) Login(ctx context.Context) (*domain.Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	a.logger.Info("Launching browser for portal login",
		zap.String("base_url", a.cfg.BaseURL),
		zap.Bool("headless", a.cfg.Headless),
	)

	l := launcher.New().
		Context(ctx).
		Headless(a.cfg.Headless).
		NoSandbox(true).
		UserDataDir(a.cfg.ProfileDir)

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	defer browser.Close()

	if err := rod.Try(func() {
		a.performLogin(browser)
	}); err != nil {
		return nil, fmt.Errorf("portal login flow failed: %w", err)
	}

	cookies, err := browser.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read session cookies: %w", err)
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("login produced no cookies")
	}

	handle := &domain.Handle{
		Cookies:       convertCookies(cookies),
		EstablishedAt: time.Now().UTC(),
	}
	a.logger.Info("Portal login completed", zap.Int("cookies", len(handle.Cookies)))
	return handle, nil
}

// Probe performs a cheap authenticated request with the handle's cookies and
// checks whether the portal bounces it back to the login form.
func (a *RodAuthenticator) Probe(ctx context.Context, handle *domain.Handle) (bool, error) {
	if handle == nil || len(handle.Cookies) == 0 {
		return false, nil
	}

	origin, err := url.Parse(a.cfg.BaseURL)
	if err != nil {
		return false, fmt.Errorf("invalid portal base url: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return false, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	jar.SetCookies(origin, handle.Cookies)

	client := httpclient.NewClient(probeTimeout)
	client.Jar = jar

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build probe request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("portal probe failed: %w", err)
	}
	defer resp.Body.Close()

	loggedIn := resp.StatusCode < 400 && !strings.Contains(resp.Request.URL.Path, "/ap/signin")
	a.logger.Debug("Portal session probe",
		zap.Bool("logged_in", loggedIn),
		zap.Int("status_code", resp.StatusCode),
	)
	return loggedIn, nil
}

// performLogin runs inside rod.Try; rod panics on failed interactions.
func (a *RodAuthenticator) performLogin(browser *rod.Browser) {
	page := browser.MustPage(a.cfg.BaseURL)
	page.MustWaitLoad()

	// Already signed in from the persistent profile.
	if !strings.Contains(page.MustInfo().URL, "/ap/signin") {
		if !a.hasLoginForm(page) {
			return
		}
	}

	if email, ok := a.element(page, "#ap_email"); ok {
		email.MustSelectAllText().MustInput(a.cfg.Email)
		if btn, ok := a.element(page, "#continue"); ok {
			btn.MustClick()
			page.MustWaitLoad()
		}
	}

	password := page.MustElement("#ap_password")
	password.MustSelectAllText().MustInput(a.cfg.Password)
	page.MustElement("#signInSubmit").MustClick()
	page.MustWaitLoad()

	if otpField, ok := a.element(page, "#auth-mfa-otpcode"); ok {
		if a.cfg.OTPSecret == "" {
			panic("portal requested OTP but no secret is configured")
		}
		code, err := totp.GenerateCode(a.cfg.OTPSecret, time.Now())
		if err != nil {
			panic(fmt.Sprintf("failed to generate OTP code: %v", err))
		}
		otpField.MustInput(code)
		if remember, ok := a.element(page, "#auth-mfa-remember-device"); ok {
			remember.MustClick()
		}
		page.MustElement("#auth-signin-button").MustClick()
		page.MustWaitLoad()
	}

	if strings.Contains(page.MustInfo().URL, "/ap/signin") {
		panic("still on login page after submitting credentials")
	}
}

// hasLoginForm reports whether the current page shows the login form.
func (a *RodAuthenticator) hasLoginForm(page *rod.Page) bool {
	_, ok := a.element(page, "#ap_password")
	return ok
}

// element looks up a selector with a short timeout instead of rod's default
// indefinite wait.
func (a *RodAuthenticator) element(page *rod.Page, selector string) (*rod.Element, bool) {
	el, err := page.Timeout(5 * time.Second).Element(selector)
	if err != nil || el == nil {
		return nil, false
	}
	return el.CancelTimeout(), true
}

// convertCookies maps browser cookies to their net/http form.
func convertCookies(cookies []*proto.NetworkCookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		cookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, cookie)
	}
	return out
}
