package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MemberFox/internal/pkg/accountstate"
	"github.com/ManuelReschke/MemberFox/internal/pkg/billing"
	"github.com/ManuelReschke/MemberFox/internal/pkg/database"
	"github.com/ManuelReschke/MemberFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/MemberFox/internal/pkg/session"
	"github.com/ManuelReschke/MemberFox/internal/pkg/usercontext"
)

const FROM_PROTECTED = usercontext.KeyFromProtected

const statusResolveTimeout = 15 * time.Second

// isLoggedIn reads the user context the session middleware resolved. The
// middleware sets the FROM_PROTECTED local and the context in lockstep.
func isLoggedIn(c *fiber.Ctx) bool {
	return usercontext.IsLoggedIn(c)
}

// ExtractEmail gets the logged-in user's email from the request context
func ExtractEmail(c *fiber.Ctx) string {
	return usercontext.GetEmail(c)
}

// accountStore restores the session's account state machine. A missing or
// corrupt snapshot yields a fresh anonymous store.
func accountStore(c *fiber.Ctx) *accountstate.Store {
	return accountstate.RestoreJSON(session.GetSessionValue(c, session.KeyAccountState))
}

// saveAccountStore writes the store snapshot back into the session. The
// write is guarded: a snapshot holding an older applied result than the one
// persisted by a concurrent request of the same session is dropped.
func saveAccountStore(c *fiber.Ctx, store *accountstate.Store) {
	current := session.GetSessionValue(c, session.KeyAccountState)
	_ = session.SetSessionValue(c, session.KeyAccountState, accountstate.NewerSnapshotJSON(current, store.SnapshotJSON()))
}

// refreshAccountStatus runs one status resolution round for the logged-in
// email and applies the outcome. The sequence number is taken before the
// network call, and the response is applied to a snapshot re-read from the
// session afterwards: a concurrent request (the page's timer poll racing a
// user action) may have applied a newer result while this one was on the
// wire, and its appliedSeq is what the stale-response guard must compare
// against. Returns the store holding the authoritative state.
func refreshAccountStatus(c *fiber.Ctx, store *accountstate.Store, email string) *accountstate.Store {
	seq := store.BeginStatusCheck()
	saveAccountStore(c, store)

	ctx, cancel := context.WithTimeout(c.UserContext(), statusResolveTimeout)
	defer cancel()

	counter.AddStatusCheck()
	svc := billing.NewServiceFromDB(database.GetDB())
	view, err := svc.ResolveStatus(ctx, email)

	latest := accountStore(c)
	if err != nil {
		_, _ = latest.ApplyStatusError(ctx, seq, "Fehler beim Prüfen des Abo-Status")
	} else {
		_, _ = latest.ApplyStatus(ctx, seq, view)
	}
	saveAccountStore(c, latest)
	return latest
}

// GetClientIP determines the actual client IP address considering proxies and dual stack
// Returns both IPv4 and IPv6 addresses if available
func GetClientIP(c *fiber.Ctx) (string, string) {
	// Default values
	ipv4 := ""
	ipv6 := ""

	// 1. Check for Cloudflare header
	cfIP := c.Get("CF-Connecting-IP")
	if cfIP != "" {
		// Cloudflare provides the original client IP in this header
		if strings.Contains(cfIP, ":") {
			ipv6 = cfIP
		} else {
			ipv4 = cfIP
		}
		return ipv4, ipv6
	}

	// 2. Check for X-Forwarded-For header (standard proxy header)
	xff := c.Get("X-Forwarded-For")
	if xff != "" {
		// X-Forwarded-For can contain a list of IPs - the first one is the original client IP
		clientIP := strings.TrimSpace(strings.Split(xff, ",")[0])
		if strings.Contains(clientIP, ":") {
			ipv6 = clientIP
		} else {
			ipv4 = clientIP
		}
		return ipv4, ipv6
	}

	// 3. If no proxy headers were found, use the normal IP address
	ipAddr := c.IP()
	if strings.Contains(ipAddr, ":") {
		// For ::ffff: IPv4-mapped-IPv6 addresses
		if strings.Contains(ipAddr, ".") && strings.HasPrefix(ipAddr, "::ffff:") {
			ipv4 = strings.TrimPrefix(ipAddr, "::ffff:")
		} else {
			ipv6 = ipAddr
		}
	} else {
		ipv4 = ipAddr
	}

	return ipv4, ipv6
}
