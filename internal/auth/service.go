// Package auth implements the admin login flows.
//
// Authentication model:
// - Password login checks operator credentials from configuration.
// - Wallet login validates a private key locally, then resolves admin
//   authority against the ledger.
// Both paths pass through the security guard (rate limiting, suspicion
// heuristics) and every decision point writes to the audit log.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/visitra/chaincore/internal/authority"
	"github.com/visitra/chaincore/internal/chainerr"
	"github.com/visitra/chaincore/internal/metrics"
	"github.com/visitra/chaincore/internal/security"
	"github.com/visitra/chaincore/internal/session"
	"github.com/visitra/chaincore/internal/traces"
	"github.com/visitra/chaincore/internal/wallet"
)

// Errors
var (
	ErrBadCredentials   = errors.New("auth: invalid username or secret")
	ErrPasswordDisabled = errors.New("auth: password login is not configured")
	ErrBlocked          = errors.New("auth: request blocked by security policy")
)

// RateLimitError reports a rejected attempt with a window reset hint.
type RateLimitError struct {
	Result security.Result
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("auth: rate limit exceeded, retry after %s",
		e.Result.RetryAfter(time.Now()).Round(time.Second))
}

// RequestMeta carries the client attributes every login decision records.
type RequestMeta struct {
	SourceIP  string
	UserAgent string
}

// LoginResult is a successful login: the session, its raw bearer token,
// and for wallet logins the authority decision with any warning. Fallback
// authorizations always surface Decision.Fallback and a warning.
type LoginResult struct {
	Session  *session.Session    `json:"session"`
	Token    string              `json:"token"`
	Decision *authority.Decision `json:"decision,omitempty"`
	Warning  string              `json:"warning,omitempty"`
}

// Service wires the login flows together.
type Service struct {
	sessions *session.Manager
	resolver *authority.Resolver
	guard    *security.Guard
	logger   *slog.Logger

	adminUsername string
	adminSecret   string
}

// NewService creates the auth service. Empty adminUsername/adminSecret
// disable password login.
func NewService(sessions *session.Manager, resolver *authority.Resolver, guard *security.Guard,
	adminUsername, adminSecret string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:      sessions,
		resolver:      resolver,
		guard:         guard,
		logger:        logger,
		adminUsername: adminUsername,
		adminSecret:   adminSecret,
	}
}

// LoginWithPassword authenticates against the configured operator
// credentials. Comparison is constant-time.
func (s *Service) LoginWithPassword(ctx context.Context, username, secret string, meta RequestMeta) (*LoginResult, error) {
	if rate := s.guard.CheckAuthRate("ip:" + meta.SourceIP); !rate.Allowed {
		s.audit(ctx, meta, security.ViolationRateLimit, "", chainerr.SeverityMedium, true, map[string]string{
			"flow": "password",
		})
		metrics.LoginsTotal.WithLabelValues("password", "rate_limited").Inc()
		return nil, &RateLimitError{Result: rate}
	}

	if s.adminUsername == "" || s.adminSecret == "" {
		metrics.LoginsTotal.WithLabelValues("password", "failure").Inc()
		return nil, ErrPasswordDisabled
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.adminUsername))
	secretOK := subtle.ConstantTimeCompare([]byte(secret), []byte(s.adminSecret))
	if userOK&secretOK != 1 {
		s.audit(ctx, meta, security.ViolationLoginFailure, "", chainerr.SeverityMedium, true, map[string]string{
			"flow": "password",
		})
		metrics.LoginsTotal.WithLabelValues("password", "failure").Inc()
		return nil, ErrBadCredentials
	}

	sess, token, err := s.sessions.Create(ctx, s.adminUsername, "", meta.SourceIP, meta.UserAgent, session.AuthPassword)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("password", "failure").Inc()
		return nil, err
	}

	s.audit(ctx, meta, security.ViolationLoginSuccess, "", chainerr.SeverityLow, false, map[string]string{
		"flow":    "password",
		"session": sess.ID,
	})
	metrics.LoginsTotal.WithLabelValues("password", "success").Inc()
	return &LoginResult{Session: sess, Token: token}, nil
}

// LoginWithWallet validates privateKey, applies the security guard, and
// resolves admin authority on the ledger before issuing a session. An
// optional claimedAddress must match the derived address.
func (s *Service) LoginWithWallet(ctx context.Context, privateKey, claimedAddress string, meta RequestMeta) (*LoginResult, error) {
	v := wallet.ValidateKey(privateKey)
	if !v.Valid {
		s.audit(ctx, meta, security.ViolationInvalidKey, "", chainerr.SeverityMedium, true, map[string]string{
			"reason": v.Err.Error(),
		})
		metrics.LoginsTotal.WithLabelValues("wallet", "failure").Inc()
		return nil, v.Err
	}
	address := v.Address

	ctx, span := traces.StartSpan(ctx, "auth.WalletLogin", traces.WalletAddr(address))
	defer span.End()

	if claimedAddress != "" && !strings.EqualFold(claimedAddress, address) {
		s.audit(ctx, meta, security.ViolationUnauthorized, address, chainerr.SeverityHigh, true, map[string]string{
			"claimed": claimedAddress,
		})
		metrics.LoginsTotal.WithLabelValues("wallet", "failure").Inc()
		return nil, chainerr.New(chainerr.KindUnauthorized,
			"derived address does not match the claimed address", false, chainerr.SeverityHigh)
	}

	if rate := s.guard.CheckAuthRate(strings.ToLower(address)); !rate.Allowed {
		s.audit(ctx, meta, security.ViolationRateLimit, address, chainerr.SeverityHigh, true, nil)
		metrics.LoginsTotal.WithLabelValues("wallet", "rate_limited").Inc()
		return nil, &RateLimitError{Result: rate}
	}

	sus := s.guard.DetectSuspicious(meta.SourceIP, meta.UserAgent, address)
	if sus.Has(security.ReasonWalletHopping) {
		s.audit(ctx, meta, security.ViolationWalletHopping, address, chainerr.SeverityHigh, true, map[string]string{
			"reasons": strings.Join(sus.Reasons, "; "),
		})
		metrics.LoginsTotal.WithLabelValues("wallet", "blocked").Inc()
		return nil, ErrBlocked
	}
	if sus.Suspicious {
		// Odd user agents are recorded but do not block an otherwise
		// valid admin login.
		s.audit(ctx, meta, security.ViolationSuspiciousUA, address, chainerr.SeverityMedium, false, map[string]string{
			"reasons": strings.Join(sus.Reasons, "; "),
		})
	}

	decision, err := s.resolver.Resolve(ctx, address)
	if err != nil {
		var ce *chainerr.Error
		if errors.As(err, &ce) && ce.Kind == chainerr.KindUnauthorized {
			s.audit(ctx, meta, security.ViolationUnauthorized, address, chainerr.SeverityHigh, true, nil)
		} else {
			severity := chainerr.SeverityHigh
			kind := "unknown"
			if ce != nil {
				severity = ce.Severity
				kind = string(ce.Kind)
			}
			s.audit(ctx, meta, security.ViolationLedgerFailure, address, severity, true, map[string]string{
				"kind": kind,
			})
		}
		metrics.LoginsTotal.WithLabelValues("wallet", "failure").Inc()
		return nil, err
	}

	sess, token, err := s.sessions.Create(ctx, strings.ToLower(address), address, meta.SourceIP, meta.UserAgent, session.AuthWallet)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("wallet", "failure").Inc()
		return nil, err
	}

	details := map[string]string{"session": sess.ID, "role": decision.Role}
	if decision.Fallback {
		details["fallback"] = "true"
	}
	s.audit(ctx, meta, security.ViolationLoginSuccess, address, chainerr.SeverityLow, false, details)
	metrics.LoginsTotal.WithLabelValues("wallet", "success").Inc()

	return &LoginResult{Session: sess, Token: token, Decision: decision, Warning: decision.Warning}, nil
}

// ListSessions returns the live sessions owned by adminID.
func (s *Service) ListSessions(ctx context.Context, adminID string) ([]*session.Session, error) {
	return s.sessions.ListByAdmin(ctx, adminID)
}

// RevokeSession revokes a session by id, recording the revocation.
func (s *Service) RevokeSession(ctx context.Context, id string, meta RequestMeta) bool {
	revoked := s.sessions.Revoke(ctx, id)
	if revoked {
		s.audit(ctx, meta, security.ViolationSessionRevoked, "", chainerr.SeverityLow, false, map[string]string{
			"session": id,
		})
	}
	return revoked
}

func (s *Service) audit(ctx context.Context, meta RequestMeta, kind, address string,
	severity chainerr.Severity, blocked bool, details map[string]string) {
	s.guard.Audit(ctx, &security.Entry{
		ViolationKind:  kind,
		SubjectAddress: address,
		SourceIP:       meta.SourceIP,
		UserAgent:      meta.UserAgent,
		Details:        details,
		Severity:       severity,
		Blocked:        blocked,
	})
}
