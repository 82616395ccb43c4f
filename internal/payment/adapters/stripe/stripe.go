package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/drawline/internal/payment/domain"
)

const (
	providerName = "stripe"

	// metadataPaymentReference carries the reference issued at reservation
	// time when it differs from the Stripe object id.
	metadataPaymentReference = "payment_reference"
	metadataProviderFee      = "provider_fee"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret, ok := readString(cfg.Config, "webhook_secret")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	tolerance := defaultTolerance
	if raw, ok := readString(cfg.Config, "signature_tolerance"); ok {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			tolerance = parsed
		}
	}

	return &Adapter{
		webhookSecret: secret,
		tolerance:     tolerance,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

const defaultTolerance = 5 * time.Minute

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	now           func() time.Time
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	if a.tolerance > 0 && a.now != nil {
		unix, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return paymentdomain.ErrInvalidSignature
		}
		age := a.now().Sub(time.Unix(unix, 0))
		if age > a.tolerance || age < -a.tolerance {
			return paymentdomain.ErrInvalidSignature
		}
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "payment_intent.succeeded":
		return a.parsePaymentIntent(event, payload, paymentdomain.OutcomePaid)
	case "payment_intent.canceled":
		return a.parsePaymentIntent(event, payload, paymentdomain.OutcomeFailed)
	case "charge.succeeded":
		return a.parseCharge(event, payload, paymentdomain.OutcomePaid)
	case "payment_intent.payment_failed", "charge.failed":
		// A failed attempt leaves the intent open for another payment method.
		// The reservation TTL releases the tickets if nothing follows.
		return nil, paymentdomain.ErrEventIgnored
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripePaymentIntent struct {
	ID             string         `json:"id"`
	Amount         int64          `json:"amount"`
	AmountReceived int64          `json:"amount_received"`
	Currency       string         `json:"currency"`
	Created        int64          `json:"created"`
	Metadata       map[string]any `json:"metadata"`
}

type stripeCharge struct {
	ID            string         `json:"id"`
	PaymentIntent string         `json:"payment_intent"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	Created       int64          `json:"created"`
	Metadata      map[string]any `json:"metadata"`
}

func (a *Adapter) parsePaymentIntent(event stripeEvent, payload []byte, outcome paymentdomain.Outcome) (*paymentdomain.PaymentEvent, error) {
	var intent stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}
	paymentID := paymentReference(intent.Metadata, intent.ID)
	if paymentID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.PaymentEvent{
		Provider:          providerName,
		ProviderEventID:   event.ID,
		ProviderPaymentID: paymentID,
		Type:              event.Type,
		Outcome:           outcome,
		Amount:            amount,
		Currency:          strings.ToUpper(strings.TrimSpace(intent.Currency)),
		ProviderFee:       readFee(intent.Metadata),
		OccurredAt:        timestamp(intent.Created, event.Created),
		RawPayload:        payload,
	}, nil
}

func (a *Adapter) parseCharge(event stripeEvent, payload []byte, outcome paymentdomain.Outcome) (*paymentdomain.PaymentEvent, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	fallback := charge.PaymentIntent
	if strings.TrimSpace(fallback) == "" {
		fallback = charge.ID
	}
	paymentID := paymentReference(charge.Metadata, fallback)
	if paymentID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.PaymentEvent{
		Provider:          providerName,
		ProviderEventID:   event.ID,
		ProviderPaymentID: paymentID,
		Type:              event.Type,
		Outcome:           outcome,
		Amount:            charge.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(charge.Currency)),
		ProviderFee:       readFee(charge.Metadata),
		OccurredAt:        timestamp(charge.Created, event.Created),
		RawPayload:        payload,
	}, nil
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func paymentReference(metadata map[string]any, fallback string) string {
	if ref := readMetadataValue(metadata, metadataPaymentReference); ref != "" {
		return ref
	}
	return strings.TrimSpace(fallback)
}

func readFee(metadata map[string]any) *int64 {
	raw := readMetadataValue(metadata, metadataProviderFee)
	if raw == "" {
		return nil
	}
	fee, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || fee < 0 {
		return nil
	}
	return &fee
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	case int64:
		return strconv.FormatInt(cast, 10)
	case int:
		return strconv.Itoa(cast)
	}
	return ""
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	switch cast := value.(type) {
	case string:
		return cast, true
	default:
		return "", false
	}
}
