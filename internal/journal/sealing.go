package journal

import (
	"context"
	"fmt"

	"storefront-guard/internal/encryption"
	"storefront-guard/internal/models"
)

// Sealer is satisfied by encryption.Manager.
type Sealer interface {
	Seal(ctx context.Context, plaintext, purpose string) (*encryption.EncryptedData, error)
}

// DefaultSealedFields are payload keys that carry phone numbers.
var DefaultSealedFields = []string{"phone", "mobile"}

// SealingSink encrypts sensitive payload fields before handing the event to
// next. String values under the sealed keys are replaced by an envelope.
type SealingSink struct {
	next   Sink
	sealer Sealer
	fields []string
}

func NewSealingSink(next Sink, sealer Sealer, fields ...string) *SealingSink {
	if len(fields) == 0 {
		fields = DefaultSealedFields
	}
	return &SealingSink{next: next, sealer: sealer, fields: fields}
}

func (s *SealingSink) Append(ctx context.Context, event models.TransactionEvent) error {
	payload := make(map[string]interface{}, len(event.Payload))
	for k, v := range event.Payload {
		payload[k] = v
	}

	for _, field := range s.fields {
		raw, ok := payload[field].(string)
		if !ok || raw == "" {
			continue
		}
		sealed, err := s.sealer.Seal(ctx, raw, field)
		if err != nil {
			return fmt.Errorf("failed to seal %s: %w", field, err)
		}
		payload[field] = sealed
	}

	event.Payload = payload
	return s.next.Append(ctx, event)
}
