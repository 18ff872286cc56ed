package escrow

import (
	"context"
	"fmt"
	"math"
	"strings"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/refund"
)

// StripeProvider holds funds with Stripe using manual-capture payment
// intents: CreateHold authorizes without capturing, Release captures, and
// Refund either cancels the uncaptured intent or refunds a captured one.
type StripeProvider struct{}

// NewStripeProvider creates a Stripe escrow provider. The stripe client
// uses the package-level API key, set once at startup from configuration.
func NewStripeProvider(apiKey string) *StripeProvider {
	stripe.Key = apiKey
	return &StripeProvider{}
}

func (p *StripeProvider) Name() string { return "stripe" }

func (p *StripeProvider) CreateHold(ctx context.Context, amount float64, currency, payerID, payeeID string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("hold amount must be positive, got %.2f", amount)
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(toMinorUnits(amount)),
		Currency:      stripe.String(strings.ToLower(currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	params.AddMetadata("payer_id", payerID)
	params.AddMetadata("payee_id", payeeID)

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe hold: %w", err)
	}
	return pi.ID, nil
}

func (p *StripeProvider) Release(ctx context.Context, ref string, amount *float64) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	if amount != nil {
		params.AmountToCapture = stripe.Int64(toMinorUnits(*amount))
	}
	if _, err := paymentintent.Capture(ref, params); err != nil {
		return fmt.Errorf("stripe capture: %w", err)
	}
	return nil
}

func (p *StripeProvider) Refund(ctx context.Context, ref, reason string) error {
	pi, err := p.get(ctx, ref)
	if err != nil {
		return err
	}

	// An uncaptured intent is cancelled; a captured one gets a refund.
	if pi.Status == stripe.PaymentIntentStatusRequiresCapture {
		params := &stripe.PaymentIntentCancelParams{
			CancellationReason: stripe.String("requested_by_customer"),
		}
		params.Context = ctx
		if _, err := paymentintent.Cancel(ref, params); err != nil {
			return fmt.Errorf("stripe cancel: %w", err)
		}
		return nil
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(ref),
	}
	params.Context = ctx
	params.AddMetadata("reason", reason)
	if _, err := refund.New(params); err != nil {
		return fmt.Errorf("stripe refund: %w", err)
	}
	return nil
}

func (p *StripeProvider) Status(ctx context.Context, ref string) (string, error) {
	pi, err := p.get(ctx, ref)
	if err != nil {
		return "", err
	}
	return string(pi.Status), nil
}

func (p *StripeProvider) get(ctx context.Context, ref string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(ref, params)
	if err != nil {
		return nil, fmt.Errorf("stripe payment intent %s: %w", ref, err)
	}
	return pi, nil
}

// toMinorUnits converts a decimal amount to the integer minor units Stripe
// expects. Assumes two-decimal currencies.
func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
