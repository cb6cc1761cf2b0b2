package storage

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"

	"github.com/marcogenualdo/sso-child/internal/config"
	"github.com/marcogenualdo/sso-child/pkg/security"
)

// CookieProvider keeps the Jar in encrypted, signed cookies. The access token
// and verifier share the primary cookie; the user snapshot gets its own so a
// large profile cannot push the token cookie over the browser size limit.
type CookieProvider struct {
	store    *sessions.CookieStore
	cfg      config.ServerConfig
	name     string
	userName string
	logger   *slog.Logger
}

func NewCookieProvider(cfg config.ServerConfig, hashKey, blockKey []byte, logger *slog.Logger) *CookieProvider {
	store := &sessions.CookieStore{
		Codecs:  securecookie.CodecsFromPairs(hashKey, blockKey),
		Options: security.CookieOptions(cfg, cfg.SessionTTL),
	}

	return &CookieProvider{
		store:    store,
		cfg:      cfg,
		name:     cfg.CookieName,
		userName: cfg.CookieName + "-user",
		logger:   logger,
	}
}

func (p *CookieProvider) Jar(w http.ResponseWriter, r *http.Request) Jar {
	return &cookieJar{
		p:    p,
		w:    w,
		r:    r,
		main: p.load(r, p.name),
		user: p.load(r, p.userName),
	}
}

func (p *CookieProvider) load(r *http.Request, name string) *sessions.Session {
	sess, err := p.store.New(r, name)
	if err != nil {
		// Undecodable cookies (rotated keys, tampering) read as empty.
		p.logger.Debug("discarding unreadable cookie", "cookie", name, "error", err)
		sess = sessions.NewSession(p.store, name)
		opts := *p.store.Options
		sess.Options = &opts
		sess.IsNew = true
	}
	return sess
}

// tokenMaxAge follows the token's exp claim when it is a JWT, capped at the
// session TTL. The claim is read without verification and only bounds the
// cookie lifetime.
func (p *CookieProvider) tokenMaxAge(token string) time.Duration {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return p.cfg.SessionTTL
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return p.cfg.SessionTTL
	}

	if until := time.Until(exp.Time); until > 0 && until < p.cfg.SessionTTL {
		return until
	}
	return p.cfg.SessionTTL
}

type cookieJar struct {
	p    *CookieProvider
	w    http.ResponseWriter
	r    *http.Request
	main *sessions.Session
	user *sessions.Session
}

func (j *cookieJar) sessionFor(key Key) *sessions.Session {
	if key == KeyUserSnapshot {
		return j.user
	}
	return j.main
}

func (j *cookieJar) Get(key Key) (string, bool) {
	v, ok := j.sessionFor(key).Values[string(key)].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (j *cookieJar) Set(key Key, value string) error {
	sess := j.sessionFor(key)
	sess.Values[string(key)] = value

	switch {
	case key == KeyAccessToken:
		sess.Options = security.CookieOptions(j.p.cfg, j.p.tokenMaxAge(value))
	case sess.Options == nil || sess.Options.MaxAge < 0:
		// Emptied by an earlier Delete in this request.
		sess.Options = security.CookieOptions(j.p.cfg, j.p.cfg.SessionTTL)
	}

	return j.save(sess)
}

func (j *cookieJar) Delete(keys ...Key) error {
	touched := make(map[*sessions.Session]bool, 2)
	for _, k := range keys {
		sess := j.sessionFor(k)
		if _, ok := sess.Values[string(k)]; ok {
			delete(sess.Values, string(k))
			touched[sess] = true
		}
	}

	for sess := range touched {
		if len(sess.Values) == 0 {
			sess.Options = security.CookieOptions(j.p.cfg, 0)
			sess.Options.MaxAge = -1
		}
		if err := j.save(sess); err != nil {
			return err
		}
	}
	return nil
}

func (j *cookieJar) save(sess *sessions.Session) error {
	security.DropSetCookie(j.w.Header(), sess.Name())
	if err := sess.Save(j.r, j.w); err != nil {
		return fmt.Errorf("failed to save cookie %s: %w", sess.Name(), err)
	}
	return nil
}
