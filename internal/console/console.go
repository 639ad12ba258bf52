// Package console assembles the maintenance console from configuration:
// session, backend client, status channel, job store, list and tracker.
package console

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/edvin/maintconsole/internal/backend"
	"github.com/edvin/maintconsole/internal/channel"
	"github.com/edvin/maintconsole/internal/config"
	"github.com/edvin/maintconsole/internal/jobstate"
	"github.com/edvin/maintconsole/internal/maintenance"
	"github.com/edvin/maintconsole/internal/session"
)

// Hooks connect the console to its front end.
type Hooks struct {
	// Navigator is sent to the login entry point when the session expires.
	Navigator session.Navigator
	// Notifier receives job lifecycle notifications. Defaults to logging.
	Notifier maintenance.Notifier
}

type Console struct {
	Store   *jobstate.Store
	Session *session.Manager
	Client  *backend.Client
	Channel *channel.Channel
	List    *maintenance.List
	Tracker *maintenance.Tracker
}

// New wires a console around store. Nothing is started: call
// Tracker.Start to follow job status.
func New(cfg *config.Config, store *jobstate.Store, hooks Hooks, logger zerolog.Logger) (*Console, error) {
	tlsConfig, err := cfg.BackendTLS()
	if err != nil {
		return nil, fmt.Errorf("backend tls: %w", err)
	}
	var clientOpts []backend.Option
	var channelOpts []channel.Option
	if tlsConfig != nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsConfig
		hc := &http.Client{Transport: transport}
		clientOpts = append(clientOpts, backend.WithHTTPClient(hc))
		channelOpts = append(channelOpts, channel.WithHTTPClient(hc))
	}

	sess := session.NewManager(session.NewFileStore(cfg.SessionFile), hooks.Navigator, logger.With().Str("component", "session").Logger())

	clientOpts = append(clientOpts,
		backend.WithTokenSource(sess),
		backend.WithAuthFailureHandler(sess),
		backend.WithLogger(logger.With().Str("component", "backend").Logger()),
	)
	client := backend.New(backend.Config{
		BaseURL:    cfg.APIURL(),
		Timeout:    cfg.RequestTimeout,
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
	}, clientOpts...)

	ch := channel.New(channel.Config{
		URL:               cfg.ChannelWSURL(),
		PollURL:           cfg.ChannelPollURL(),
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
	}, logger, append(channelOpts, channel.WithTokenSource(sess))...)

	list := maintenance.NewList(client, store, logger)
	tracker := maintenance.NewTracker(ch, store, list, cfg.ListPollInterval, hooks.Notifier, logger)

	return &Console{
		Store:   store,
		Session: sess,
		Client:  client,
		Channel: ch,
		List:    list,
		Tracker: tracker,
	}, nil
}

// Close stops tracking and closes the channel.
func (c *Console) Close() error {
	c.Tracker.Stop()
	return c.Channel.Close()
}
