package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-fulfillment/internal/logger"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var ErrClientInitFailed = errors.New("failed to initialize gateway client")

// StatusCompleted is the single gateway status the reconciler treats
// as success. Everything else is a failure.
const StatusCompleted = "COMPLETED"

// Intent is the remote payment opened for an order. The buyer finishes
// it out-of-band via the approval link.
type Intent struct {
	IntentID     string
	ApprovalLink string
}

// Capture is the gateway's answer to a capture attempt.
type Capture struct {
	Status     string
	CaptureID  string
	Amount     float64
	CapturedAt time.Time
}

// StripeGateway adapts the Stripe API to the engine's two-call gateway
// contract: a manual-capture checkout session stands in for the intent
// and its approval link, and capture finalizes the session's payment
// intent.
type StripeGateway struct {
	client     *client.API
	successURL string
	cancelURL  string
	log        *logger.Logger
}

func NewStripeGateway(secretKey, successURL, cancelURL string, log *logger.Logger) (*StripeGateway, error) {
	if secretKey == "" {
		log.Error("GATEWAY", "Stripe secret key not configured")
		return nil, ErrClientInitFailed
	}

	sc := client.New(secretKey, nil)
	return &StripeGateway{
		client:     sc,
		successURL: successURL,
		cancelURL:  cancelURL,
		log:        log,
	}, nil
}

func (g *StripeGateway) CreateIntent(ctx context.Context, amount float64, currency, reference string) (*Intent, error) {
	amountInCents := int64(amount * 100)

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Order " + reference),
					},
					UnitAmount: stripe.Int64(amountInCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			CaptureMethod: stripe.String("manual"),
		},
		SuccessURL: stripe.String(g.successURL),
		CancelURL:  stripe.String(g.cancelURL),
	}
	params.Context = ctx
	params.AddMetadata("order_reference", reference)

	sess, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		g.log.Error("GATEWAY", fmt.Sprintf("Failed to create checkout session for %s: %v", reference, err))
		return nil, err
	}

	g.log.Info("GATEWAY", fmt.Sprintf("Opened intent %s for %s (%.2f %s)", sess.ID, reference, amount, currency))
	return &Intent{IntentID: sess.ID, ApprovalLink: sess.URL}, nil
}

func (g *StripeGateway) Capture(ctx context.Context, intentID string) (*Capture, error) {
	getParams := &stripe.CheckoutSessionParams{}
	getParams.Context = ctx
	getParams.AddExpand("payment_intent")

	sess, err := g.client.CheckoutSessions.Get(intentID, getParams)
	if err != nil {
		return nil, err
	}
	if sess.PaymentIntent == nil {
		// Session was never completed by the buyer; nothing to capture.
		return &Capture{Status: "NOT_APPROVED"}, nil
	}

	captureParams := &stripe.PaymentIntentCaptureParams{}
	captureParams.Context = ctx

	pi, err := g.client.PaymentIntents.Capture(sess.PaymentIntent.ID, captureParams)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			// A definitive decline, not a transport failure.
			g.log.Warn("GATEWAY", fmt.Sprintf("Capture declined for intent %s: %v", intentID, stripeErr.Code))
			return &Capture{Status: "DECLINED"}, nil
		}
		return nil, err
	}

	capture := &Capture{
		Status:     strings.ToUpper(string(pi.Status)),
		Amount:     float64(pi.AmountReceived) / 100.0,
		CapturedAt: time.Unix(pi.Created, 0),
	}
	if pi.Status == stripe.PaymentIntentStatusSucceeded {
		capture.Status = StatusCompleted
	}
	if pi.LatestCharge != nil {
		capture.CaptureID = pi.LatestCharge.ID
	}

	g.log.Info("GATEWAY", fmt.Sprintf("Capture for intent %s returned %s", intentID, capture.Status))
	return capture, nil
}
