package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"DigestCurator/internal/domain"
	"DigestCurator/internal/metrics"
	"DigestCurator/internal/ports"
)

const breakerName = "smtp"

// Options configures the envelope and the circuit breaker.
type Options struct {
	From             string
	FromName         string
	FailureThreshold uint32
	OpenTimeout      time.Duration
	Now              func() time.Time
	Logger           *slog.Logger
}

// Mailer renders digests and admin notices and hands them to a Sender.
type Mailer struct {
	sender   Sender
	from     string
	fromName string
	breaker  *gobreaker.CircuitBreaker[struct{}]
	now      func() time.Time
	logger   *slog.Logger
}

var _ ports.Mailer = (*Mailer)(nil)

// New wires a Sender behind a circuit breaker.
func New(sender Sender, opts Options) *Mailer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FromName == "" {
		opts.FromName = "AI News Digest"
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 2 * time.Minute
	}

	logger := opts.Logger
	threshold := opts.FailureThreshold
	metrics.BreakerState.WithLabelValues(breakerName).Set(0)

	return &Mailer{
		sender:   sender,
		from:     opts.From,
		fromName: opts.FromName,
		now:      opts.Now,
		logger:   logger,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        breakerName,
			MaxRequests: 1,
			Timeout:     opts.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("mail circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
				metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
			},
		}),
	}
}

// SendDigest delivers the ranked items. Failures are reported in the result.
func (m *Mailer) SendDigest(ctx context.Context, user domain.User, profile domain.Profile, items []domain.RankedItem) domain.DeliveryResult {
	if len(items) == 0 {
		return domain.DeliveryResult{Error: "no items to deliver"}
	}

	date := m.now().Format("January 2, 2006")
	html, text, err := render(digestHTMLTmpl, digestTextTmpl, digestView{
		Name:  displayName(profile.Name, user),
		Date:  date,
		Items: items,
	})
	if err != nil {
		return domain.DeliveryResult{Error: err.Error()}
	}

	err = m.send(ctx, message{
		FromName: m.fromName,
		From:     m.from,
		To:       user.Email,
		Subject:  "Daily AI News Digest - " + date,
		Text:     text,
		HTML:     html,
		Boundary: "digest_" + uuid.NewString(),
	})
	if err != nil {
		m.logger.Error("digest delivery failed", "user_id", user.ID, "email", user.Email, "error", err)
		return domain.DeliveryResult{Error: err.Error()}
	}

	m.logger.Info("digest delivered", "user_id", user.ID, "email", user.Email, "items", len(items))
	return domain.DeliveryResult{Success: true}
}

// SendAdminWelcome sends the one-time administrator notice.
func (m *Mailer) SendAdminWelcome(ctx context.Context, user domain.User) error {
	html, text, err := render(welcomeHTMLTmpl, welcomeTextTmpl, welcomeView{
		Name:  displayName(user.Name, user),
		Email: user.Email,
	})
	if err != nil {
		return err
	}
	return m.send(ctx, message{
		FromName: m.fromName,
		From:     m.from,
		To:       user.Email,
		Subject:  "You are now an administrator",
		Text:     text,
		HTML:     html,
		Boundary: "welcome_" + uuid.NewString(),
	})
}

func (m *Mailer) send(ctx context.Context, msg message) error {
	if msg.To == "" {
		return errors.New("recipient address is empty")
	}
	_, err := m.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, m.sender.Send(ctx, m.from, msg.To, msg.build())
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", msg.To, err)
	}
	return nil
}

func displayName(name string, user domain.User) string {
	switch {
	case name != "":
		return name
	case user.Name != "":
		return user.Name
	default:
		return "there"
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
