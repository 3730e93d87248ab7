package domain

import (
	"encoding/json"
	"fmt"
)

// ValidateEnvelope turns an untrusted webhook body into a typed Envelope or
// rejects it. The body may be anything: null, a primitive, an array, or an
// object with missing or mistyped keys. Nothing partially typed escapes.
//
// message and webhookId must be non-empty. timestamp and phone must be
// present strings but may be empty; an empty value means "not provided" and
// is a recorded business rule, not an oversight.
func ValidateEnvelope(raw []byte) (Envelope, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: body is not a JSON object", ErrInvalidEnvelope)
	}

	fields := make(map[string]string, 4)
	for _, key := range []string{"message", "timestamp", "phone", "webhookId"} {
		v, present := obj[key]
		if !present {
			return Envelope{}, fmt.Errorf("%w: missing field %q", ErrInvalidEnvelope, key)
		}
		s, isString := v.(string)
		if !isString {
			return Envelope{}, fmt.Errorf("%w: field %q is not a string", ErrInvalidEnvelope, key)
		}
		fields[key] = s
	}

	if len(fields["message"]) == 0 {
		return Envelope{}, fmt.Errorf("%w: message is empty", ErrInvalidEnvelope)
	}
	if len(fields["webhookId"]) == 0 {
		return Envelope{}, fmt.Errorf("%w: webhookId is empty", ErrInvalidEnvelope)
	}

	return Envelope{
		Message:   fields["message"],
		Timestamp: fields["timestamp"],
		Phone:     fields["phone"],
		WebhookID: fields["webhookId"],
	}, nil
}
