package subscription

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Outcome classifies a driver or peer ack for a subscription request.
type Outcome int

const (
	// OutcomeOK is a plain success ack.
	OutcomeOK Outcome = iota
	// OutcomeDuplicate means the source driver already holds an identical
	// subscription; the canonical request id was extracted from the error.
	OutcomeDuplicate
	// OutcomeError is any other failure.
	OutcomeError
)

// Classification is the result of classifying an ack message.
type Classification struct {
	Outcome     Outcome
	CanonicalID string
	Message     string
}

// Classifier recognizes well-known driver error messages. Rules come from
// the driver error-constants catalog, an external interface shared with
// driver implementations.
type Classifier struct {
	subExistsPrefix string
}

// catalog mirrors driver/driver-error-constants.json. Messages may carry a
// {0} placeholder for the canonical request id.
type catalog struct {
	SubExists string `json:"SUB_EXISTS"`
}

// LoadClassifier reads the driver error catalog from path. An empty path
// yields a classifier that never reports duplicates.
func LoadClassifier(path string) (*Classifier, error) {
	if path == "" {
		return &Classifier{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read driver error constants %s: %w", path, err)
	}
	var c catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse driver error constants %s: %w", path, err)
	}
	return NewClassifier(c.SubExists), nil
}

// NewClassifier builds a classifier from the raw SUB_EXISTS message pattern.
func NewClassifier(subExistsPattern string) *Classifier {
	prefix, _, _ := strings.Cut(subExistsPattern, "{0}")
	return &Classifier{subExistsPrefix: prefix}
}

// ClassifyError classifies a non-Ok ack message. The canonical request id
// follows the catalog prefix in a duplicate-subscription error.
func (c *Classifier) ClassifyError(message string) Classification {
	if c.subExistsPrefix != "" && strings.Contains(message, c.subExistsPrefix) {
		parts := strings.Split(message, c.subExistsPrefix)
		canonicalID := strings.TrimSpace(parts[len(parts)-1])
		if canonicalID != "" {
			return Classification{Outcome: OutcomeDuplicate, CanonicalID: canonicalID, Message: message}
		}
	}
	return Classification{Outcome: OutcomeError, Message: message}
}
