package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hnrobert/lumprov/internal/auth"
	"github.com/hnrobert/lumprov/internal/config"
	"github.com/hnrobert/lumprov/internal/logger"
	"github.com/hnrobert/lumprov/internal/pwgen"
	"github.com/hnrobert/lumprov/internal/report"
	"github.com/hnrobert/lumprov/internal/usercmd"
	"github.com/hnrobert/lumprov/internal/usermgr"
)

var (
	ErrHostUnavailable = errors.New("host unavailable")
	ErrInvalidArgs     = errors.New("invalid arguments")
)

// Hasher turns a plaintext password into a crypt(3) string. *auth.Hasher
// implements it.
type Hasher interface {
	HashPassword(pw string) (string, error)
}

// Workflow runs the roster against every configured host. Hosts are
// independent: a failure on one never stops the others, and nothing is
// rolled back.
type Workflow struct {
	Config    config.Config
	Runner    *usercmd.Runner
	Passwords PasswordSource
	Hasher    Hasher
	Now       func() time.Time
	// DryRun marks a Runner whose executor only logs commands. Changes are
	// reported as planned and no password is shown.
	DryRun bool
}

type AddOptions struct {
	// PerHostPasswords generates a new password for every (user, host)
	// pair instead of one per user for the run.
	PerHostPasswords bool
	// Parallel is the number of hosts processed at once; <= 1 is sequential.
	Parallel int
	// Verify reads the shadow entry back and checks the password against it.
	Verify bool
}

type DeleteOptions struct {
	KeepHome bool
	Parallel int
}

func (w *Workflow) passwords() PasswordSource {
	if w.Passwords == nil {
		return &pwgen.Generator{}
	}
	return w.Passwords
}

func (w *Workflow) now() time.Time {
	if w.Now == nil {
		return time.Now()
	}
	return w.Now()
}

func (w *Workflow) hash(pw string) (string, error) {
	if w.Hasher != nil {
		return w.Hasher.HashPassword(pw)
	}
	h, err := auth.NewHasher(nil)
	if err != nil {
		return "", err
	}
	return h.HashPassword(pw)
}

// forEachHost calls fn for every host, at most parallel at a time, and
// joins the errors of all hosts.
func (w *Workflow) forEachHost(ctx context.Context, parallel int, fn func(ctx context.Context, host string) error) error {
	if parallel < 1 {
		parallel = 1
	}
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(parallel)
	for _, host := range w.Config.Hosts {
		host := host
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := fn(ctx, host); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", host, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ping checks that the host answers and that privileged commands work. On
// failure every user in users is recorded as skipped for host.
func (w *Workflow) ping(ctx context.Context, host string, rep *report.Report, users []config.User) error {
	if err := w.Runner.Ping(ctx, host); err != nil {
		logger.Error("%s: %v", host, err)
		for _, u := range users {
			rep.Add(report.Entry{Host: host, FullName: u.Name, Username: u.Username, Status: report.StatusSkipped, Detail: err.Error()})
		}
		return fmt.Errorf("%w: %v", ErrHostUnavailable, err)
	}
	return nil
}

// AddUsers creates the roster on every host. The policy is validated first
// and nothing runs if it is invalid. Per-user failures are recorded in the
// report; the returned error only covers hosts that could not be processed.
func (w *Workflow) AddUsers(ctx context.Context, opts AddOptions) (*report.Report, error) {
	if err := w.Config.Policy.Validate(); err != nil {
		return nil, err
	}
	if w.DryRun && opts.Verify {
		return nil, fmt.Errorf("%w: --verify needs the accounts to exist, it cannot be combined with a dry run", ErrInvalidArgs)
	}
	rep := report.New("adduser")

	var shared Credentials
	if !opts.PerHostPasswords {
		shared = GenerateCredentials(w.passwords(), w.Config.Policy, w.Config.Users)
		for _, c := range shared {
			if c.Err != nil {
				logger.Error("password for %s: %v", c.Username, c.Err)
			}
		}
	}

	err := w.forEachHost(ctx, opts.Parallel, func(ctx context.Context, host string) error {
		if err := w.ping(ctx, host, rep, w.Config.Users); err != nil {
			return err
		}
		w.ensureGroups(ctx, host)
		for _, u := range w.Config.Users {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var cred Credential
			if shared != nil {
				cred = shared[u.Username]
			} else {
				cred = newCredential(w.passwords(), w.Config.Policy, u.Username)
			}
			rep.Add(w.addUser(ctx, host, u, cred, opts.Verify))
		}
		return nil
	})
	return rep, err
}

func (w *Workflow) ensureGroups(ctx context.Context, host string) {
	for _, g := range w.Config.Groups {
		st, err := w.Runner.GroupAdd(ctx, host, g)
		if err != nil {
			logger.Error("%s: adding group %s: %v", host, g, err)
			continue
		}
		if st == usercmd.GroupExists {
			logger.Info("%s: group already exists: %s", host, g)
		} else {
			logger.Info("%s: group added: %s", host, g)
		}
	}
}

// missingGroups returns the configured groups that do not list username as
// a member on host. A group absent from the host counts as missing.
func (w *Workflow) missingGroups(ctx context.Context, host, username string) ([]string, error) {
	var missing []string
	for _, name := range w.Config.Groups {
		g, err := w.Runner.Group(ctx, host, name)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", name, err)
		}
		if g == nil || !g.HasMember(username) {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// groupNote describes the group membership of username for a report detail.
func (w *Workflow) groupNote(ctx context.Context, host, username string) string {
	missing, err := w.missingGroups(ctx, host, username)
	if err != nil {
		logger.Warn("%s: checking groups of %s: %v", host, username, err)
		return "group membership unknown"
	}
	if len(missing) == 0 {
		return ""
	}
	logger.Warn("%s: %s is not in %s", host, username, strings.Join(missing, ", "))
	return "not in " + strings.Join(missing, ", ")
}

func joinDetail(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "; ")
}

func (w *Workflow) addUser(ctx context.Context, host string, u config.User, cred Credential, verify bool) report.Entry {
	e := report.Entry{Host: host, FullName: u.Name, Username: u.Username}
	fail := func(step string, err error) report.Entry {
		logger.Error("%s: %s %s: %v", host, step, u.Username, err)
		e.Status = report.StatusFailed
		e.Detail = fmt.Sprintf("%s: %v", step, err)
		return e
	}

	if cred.Err != nil {
		return fail("generate password", cred.Err)
	}
	err := w.Runner.AddUser(ctx, host, usercmd.NewUser{
		Username: u.Username,
		FullName: u.Name,
		Comment:  u.Comment,
		Groups:   w.Config.Groups,
	})
	if errors.Is(err, usercmd.ErrUserExists) {
		logger.Warn("%s: %s already exists, password left unchanged", host, u.Username)
		e.Status = report.StatusExists
		e.Detail = joinDetail("account already present; password unchanged", w.groupNote(ctx, host, u.Username))
		return e
	}
	if err != nil {
		return fail("create account", err)
	}

	hash, err := w.hash(cred.Password)
	if err != nil {
		return fail("hash password", err)
	}
	if err := w.Runner.SetPasswordHash(ctx, host, u.Username, hash); err != nil {
		return fail("set password", err)
	}
	if err := w.Runner.SetAging(ctx, host, u.Username, w.Config.Aging, w.now()); err != nil {
		return fail("set aging", err)
	}
	if verify {
		se, err := w.Runner.ShadowEntry(ctx, host, u.Username)
		if err != nil {
			return fail("verify password", err)
		}
		if err := auth.VerifyPassword(se.Hash, cred.Password); err != nil {
			return fail("verify password", errors.New(auth.HumanAuthError(err)))
		}
	}

	if w.DryRun {
		e.Status, e.Detail = report.StatusPlanned, "dry run; no account created"
		return e
	}
	logger.Info("%s: created %s", host, u.Username)
	e.Status = report.StatusCreated
	e.Password = cred.Password
	return e
}

// DeleteUsers removes every roster account from every host. Groups are
// left in place.
func (w *Workflow) DeleteUsers(ctx context.Context, opts DeleteOptions) (*report.Report, error) {
	rep := report.New("deluser")
	err := w.forEachHost(ctx, opts.Parallel, func(ctx context.Context, host string) error {
		if err := w.ping(ctx, host, rep, w.Config.Users); err != nil {
			return err
		}
		for _, u := range w.Config.Users {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e := report.Entry{Host: host, FullName: u.Name, Username: u.Username}
			err := w.Runner.DelUser(ctx, host, u.Username, !opts.KeepHome)
			switch {
			case err == nil && w.DryRun:
				e.Status, e.Detail = report.StatusPlanned, "dry run; nothing deleted"
			case err == nil:
				logger.Info("%s: deleted %s", host, u.Username)
				e.Status = report.StatusDeleted
			case errors.Is(err, usercmd.ErrUserNotFound):
				e.Status = report.StatusMissing
			default:
				logger.Error("%s: deleting %s: %v", host, u.Username, err)
				e.Status = report.StatusFailed
				e.Detail = err.Error()
			}
			rep.Add(e)
		}
		return nil
	})
	return rep, err
}

// ModComment sets the GECOS comment of username on every host where the
// account exists. The user does not have to be in the roster.
func (w *Workflow) ModComment(ctx context.Context, username, comment string, parallel int) (*report.Report, error) {
	if username == "" || comment == "" {
		return nil, fmt.Errorf("%w: user %q, comment %q", ErrInvalidArgs, username, comment)
	}
	if !usermgr.ValidUsername(username) {
		return nil, fmt.Errorf("%w: bad username %q", ErrInvalidArgs, username)
	}
	if strings.ContainsAny(comment, ":\n") {
		return nil, fmt.Errorf("%w: comment must not contain ':' or newlines", ErrInvalidArgs)
	}
	fullName := username
	if u, ok := w.Config.Find(username); ok {
		fullName = u.Name
	}

	rep := report.New("mod-comment")
	target := []config.User{{Name: fullName, Username: username}}
	err := w.forEachHost(ctx, parallel, func(ctx context.Context, host string) error {
		if err := w.ping(ctx, host, rep, target); err != nil {
			return err
		}
		e := report.Entry{Host: host, FullName: fullName, Username: username}
		ok, err := w.Runner.UserExists(ctx, host, username)
		if err != nil {
			e.Status, e.Detail = report.StatusFailed, err.Error()
			rep.Add(e)
			return fmt.Errorf("%w: %v", ErrHostUnavailable, err)
		}
		if !ok {
			logger.Warn("account %s not found on server: %s", username, host)
			e.Status = report.StatusMissing
			rep.Add(e)
			return nil
		}
		if err := w.Runner.SetComment(ctx, host, username, comment); err != nil {
			logger.Error("%s: %v", host, err)
			e.Status, e.Detail = report.StatusFailed, err.Error()
			rep.Add(e)
			return nil
		}
		e.Status, e.Detail = report.StatusUpdated, comment
		if w.DryRun {
			e.Status, e.Detail = report.StatusPlanned, "dry run; comment would be "+comment
		}
		rep.Add(e)
		return nil
	})
	return rep, err
}

// Status reports which roster accounts exist on each host, with their
// GECOS field and any configured group they are not a member of.
func (w *Workflow) Status(ctx context.Context, parallel int) (*report.Report, error) {
	if w.DryRun {
		return nil, fmt.Errorf("%w: status reads the hosts, it cannot run as a dry run", ErrInvalidArgs)
	}
	rep := report.New("status")
	err := w.forEachHost(ctx, parallel, func(ctx context.Context, host string) error {
		if err := w.ping(ctx, host, rep, w.Config.Users); err != nil {
			return err
		}
		for _, u := range w.Config.Users {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e := report.Entry{Host: host, FullName: u.Name, Username: u.Username}
			pe, err := w.Runner.Lookup(ctx, host, u.Username)
			switch {
			case err == nil:
				e.Status, e.Detail = report.StatusPresent, joinDetail(pe.Gecos, w.groupNote(ctx, host, u.Username))
			case errors.Is(err, usercmd.ErrUserNotFound):
				e.Status = report.StatusMissing
			default:
				e.Status, e.Detail = report.StatusFailed, err.Error()
			}
			rep.Add(e)
		}
		return nil
	})
	return rep, err
}
