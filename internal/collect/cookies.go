package collect

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/trailmark-io/trailmark/internal/identity"
	"github.com/trailmark-io/trailmark/internal/store"
)

// cookieMaxAge keeps the anonymous id for a year of inactivity.
const cookieMaxAge = 365 * 24 * 60 * 60

// cookieKV adapts one HTTP exchange's cookies to the store.KV capability.
// Reads come from the request, writes go to the response, and a value written
// earlier in the same request is visible to later reads.
type cookieKV struct {
	c       *gin.Context
	written map[string]*string // nil value marks a deletion
}

func newCookieKV(c *gin.Context) store.KV {
	return &cookieKV{c: c, written: make(map[string]*string)}
}

func (k *cookieKV) Get(_ context.Context, key string) (string, bool, error) {
	if v, ok := k.written[key]; ok {
		if v == nil {
			return "", false, nil
		}
		return *v, true, nil
	}
	value, err := k.c.Cookie(key)
	if err == http.ErrNoCookie {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (k *cookieKV) Set(_ context.Context, key, value string) error {
	k.c.SetCookie(key, value, cookieMaxAge, "/", "", false, true)
	k.written[key] = &value
	return nil
}

func (k *cookieKV) Delete(_ context.Context, key string) error {
	k.c.SetCookie(key, "", -1, "/", "", false, true)
	k.written[key] = nil
	return nil
}

// Clear removes the cookies this engine owns. Arbitrary visitor cookies are
// out of scope.
func (k *cookieKV) Clear(ctx context.Context) error {
	return k.Delete(ctx, identity.KeyAnonymousCookie)
}
