package netmgr

import (
	"context"

	"github.com/mafredri/cdp/protocol/network"
)

// Cookie wraps one browser cookie record. Mutations delegate back to the
// manager; the record itself is a snapshot taken when it was read.
type Cookie struct {
	mgr *Manager
	c   network.Cookie
}

// Name returns the cookie name.
func (c *Cookie) Name() string { return c.c.Name }

// Value returns the cookie value.
func (c *Cookie) Value() string { return c.c.Value }

// Domain returns the cookie domain.
func (c *Cookie) Domain() string { return c.c.Domain }

// Path returns the cookie path.
func (c *Cookie) Path() string { return c.c.Path }

// Expires returns the expiry as seconds since the epoch, -1 for session
// cookies.
func (c *Cookie) Expires() float64 { return c.c.Expires }

// Size returns the cookie size in bytes.
func (c *Cookie) Size() int { return c.c.Size }

// HTTPOnly reports the httpOnly attribute.
func (c *Cookie) HTTPOnly() bool { return c.c.HTTPOnly }

// Secure reports the secure attribute.
func (c *Cookie) Secure() bool { return c.c.Secure }

// Session reports whether this is a session cookie.
func (c *Cookie) Session() bool { return c.c.Session }

// SameSite returns the same-site policy, if set.
func (c *Cookie) SameSite() string { return string(c.c.SameSite) }

// Delete removes the cookie from the browser jar. Identity follows the
// browser's own semantics: the (name, domain, path) tuple.
func (c *Cookie) Delete(ctx context.Context) error {
	return c.mgr.DeleteCookies(ctx, CookieSelector{
		Name:   c.c.Name,
		Domain: c.c.Domain,
		Path:   c.c.Path,
	})
}

// SetValue rewrites the cookie value in the browser jar. The snapshot is
// only updated when the browser reports success.
func (c *Cookie) SetValue(ctx context.Context, value string) (bool, error) {
	ok, err := c.mgr.SetCookie(ctx, CookieParam{
		Name:     c.c.Name,
		Value:    value,
		Domain:   c.c.Domain,
		Path:     c.c.Path,
		Secure:   c.c.Secure,
		HTTPOnly: c.c.HTTPOnly,
		SameSite: string(c.c.SameSite),
		Expires:  c.c.Expires,
	})
	if err != nil {
		return false, err
	}
	if ok {
		c.c.Value = value
	}
	return ok, nil
}
