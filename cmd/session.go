package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/Ashfaaq98/helium-console/internal/api"
	"github.com/Ashfaaq98/helium-console/internal/caseview"
	"github.com/Ashfaaq98/helium-console/internal/store"
)

// openStore opens the local SQLite database, creating its directory.
func openStore(cfg Config) (*store.Store, error) {
	path := resolvePathRelativeToBase(getWorkingDir(), cfg.Database.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	st, err := store.NewStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return st, nil
}

// newClient builds the Helium API client. observer may be nil.
func newClient(cfg Config, logger *log.Logger, observer api.Observer) (*api.Client, error) {
	return api.New(api.Options{
		BaseURL:   cfg.API.URL,
		Token:     cfg.API.Token,
		Timeout:   cfg.API.Timeout,
		RateLimit: cfg.API.Rate,
		Burst:     5,
		Logger:    logger,
		Observer:  observer,
	})
}

// waitSeeded blocks until the initial fetches of a session are done.
func waitSeeded(ctx context.Context, s *caseview.Session) error {
	select {
	case <-s.Seeded():
		return nil
	case <-s.Done():
		return caseview.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// oneShot is a case view opened without the event stream, for commands that
// act once and exit.
type oneShot struct {
	cfg     Config
	store   *store.Store
	session *caseview.Session
	logger  *log.Logger

	mu sync.Mutex
	// left is set when the view asked to be left, with the reason.
	left   bool
	reason caseview.Toast
}

// openOneShot opens caseID, waits for the seed fetches and, when collection
// is set, loads that collection's analyses.
func openOneShot(ctx context.Context, caseID, collection string) (*oneShot, error) {
	cfg := GetConfig()
	logger := newLogger(cfg, "helium")
	debug := newDebugLogger(cfg, "caseview")

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	client, err := newClient(cfg, newDebugLogger(cfg, "api"), nil)
	if err != nil {
		st.Close()
		return nil, err
	}

	o := &oneShot{cfg: cfg, store: st, logger: logger}
	notifier := caseview.NotifierFunc(func(u caseview.Update) {
		o.mu.Lock()
		defer o.mu.Unlock()
		for _, e := range u.Effects {
			switch e.Kind {
			case caseview.EffectToast:
				if !o.left {
					o.reason = e.Toast
				}
			case caseview.EffectNavigateAway:
				o.left = true
			}
		}
	})
	s, err := caseview.Open(ctx, client, caseID, notifier, caseview.Options{
		Logger:   debug,
		Visits:   st,
		NoStream: true,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	o.session = s

	if err := waitSeeded(ctx, s); err == nil {
		err = s.Sync(ctx)
	}
	if err != nil {
		o.Close()
		return nil, err
	}
	if left, reason := o.leftView(); left {
		o.Close()
		return nil, fmt.Errorf("%s: %s", reason.Summary, reason.Detail)
	}
	if collection != "" {
		if _, ok := s.State().Collection(collection); !ok {
			o.Close()
			return nil, fmt.Errorf("collection %s not found in case %s", collection, s.CaseGUID())
		}
		if err := s.OpenCollection(ctx, collection); err != nil {
			o.Close()
			return nil, err
		}
	}
	return o, nil
}

func (o *oneShot) leftView() (bool, caseview.Toast) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.left, o.reason
}

// Close closes the view and the store.
func (o *oneShot) Close() {
	_ = o.session.Close()
	<-o.session.Done()
	o.store.Close()
}

// record appends a user action to the activity log. Failures are logged only.
func (o *oneShot) record(ctx context.Context, action, summary string, err error) {
	a := store.Activity{
		CaseGUID: o.session.CaseGUID(),
		Category: action,
		Actor:    "cli",
		Summary:  summary,
	}
	if err != nil {
		a.Details = map[string]interface{}{"error": err.Error()}
		var actionErr *caseview.ActionError
		if errors.As(err, &actionErr) {
			a.Summary = caseview.FailureToast(err).Detail
		}
	}
	if _, rerr := o.store.RecordActivity(ctx, a); rerr != nil {
		o.logger.Printf("failed to record activity: %v", rerr)
	}
}
